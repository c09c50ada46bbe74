package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"lessonpay/internal/config"
	"lessonpay/internal/db"
	"lessonpay/internal/db/testutil"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealth_AllUp(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	database := db.NewFromPool(testDB.Pool)
	handler := NewHealthHandler(database, &config.Config{Environment: config.EnvTest})

	app := fiber.New()
	handler.RegisterRoutes(app)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
	assert.Equal(t, "up", body.Services["database"])
	assert.Equal(t, "up", body.Services["api"])
}

func TestHealth_DegradedWithoutDatabase(t *testing.T) {
	handler := NewHealthHandler(nil, &config.Config{Environment: config.EnvTest})

	app := fiber.New()
	handler.RegisterRoutes(app)

	req := httptest.NewRequest("GET", "/health", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode, "health reports degraded, it does not fail")

	var body HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "not_configured", body.Services["database"])
}

func TestLiveness_AlwaysAlive(t *testing.T) {
	handler := NewHealthHandler(nil, &config.Config{Environment: config.EnvTest})

	app := fiber.New()
	handler.RegisterRoutes(app)

	req := httptest.NewRequest("GET", "/health/live", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
}

func TestReadiness_RequiresDatabase(t *testing.T) {
	handler := NewHealthHandler(nil, &config.Config{Environment: config.EnvTest})

	app := fiber.New()
	handler.RegisterRoutes(app)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "not_ready", body["status"])
}

func TestReadiness_ReadyWithDatabase(t *testing.T) {
	testDB := testutil.NewTestDB(t)
	defer testDB.Close(t)

	database := db.NewFromPool(testDB.Pool)
	handler := NewHealthHandler(database, &config.Config{Environment: config.EnvTest})

	app := fiber.New()
	handler.RegisterRoutes(app)

	req := httptest.NewRequest("GET", "/health/ready", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
}
