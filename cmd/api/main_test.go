package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ezzatsd/CynaApp/internal/platform/config"
)

func TestRequiredSecretNames(t *testing.T) {
	assert.Equal(t, []string{"Database.DSN", "PSP.StripeAPIKey", "PSP.StripeWebhookSecret"}, requiredSecretNames(true))
	assert.Equal(t, []string{"Database.DSN"}, requiredSecretNames(false))
}

func TestSecretProjectMapFromEnv(t *testing.T) {
	env := map[string]string{
		"API_SECRET_PROJECT_IDS": " Prod=cyna-prod , staging=cyna-stg,broken,=missing,empty= ",
	}
	assert.Equal(t, map[string]string{
		"prod":    "cyna-prod",
		"staging": "cyna-stg",
	}, secretProjectMapFromEnv(env))
	assert.Empty(t, secretProjectMapFromEnv(nil))
}

func TestSecretVersionPinsFromEnv(t *testing.T) {
	env := map[string]string{
		"API_SECRET_VERSION_PINS": "sm://stripe-key=3,prod:stripe-webhook=7,secret://jwt=latest",
	}
	assert.Equal(t, map[string]string{
		"secret://stripe-key":          "3",
		"prod:secret://stripe-webhook": "7",
		"secret://jwt":                 "latest",
	}, secretVersionPinsFromEnv(env))
}

func TestUniqueStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, uniqueStrings([]string{" b", "a", "", "b ", "a"}))
}

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	info := buildInfoFromEnv(nil, config.Config{}, started)
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.CommitSHA)
	assert.Equal(t, "local", info.Environment)
	assert.Equal(t, started, info.StartedAt)

	info = buildInfoFromEnv(map[string]string{
		"API_BUILD_VERSION":    "1.4.2",
		"API_BUILD_COMMIT_SHA": "abc123",
	}, config.Config{Environment: "prod"}, started)
	assert.Equal(t, "1.4.2", info.Version)
	assert.Equal(t, "abc123", info.CommitSHA)
	assert.Equal(t, "prod", info.Environment)
}

func TestMigrateDownRequiresConfirmation(t *testing.T) {
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"cyna-api", "migrate", "down"})
	require.Error(t, err)
	var exitErr cli.ExitCoder
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 2, exitErr.ExitCode())
}
