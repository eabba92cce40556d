package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const testFlow = `{
  "rootStepId": "root",
  "steps": [
    {"id": "root", "promptResourceKey": "menu.root.prompt", "options": [
      {"id": "sign", "matchResourceKeyOrPattern": "menu.root.sign", "serviceId": "sun_sign"}
    ]}
  ]
}`

const services = `"services": {
    "horoscope_calc": {"name": "H", "help": "h", "result": "r"},
    "sun_sign": {"name": "S", "result": "r"},
    "life_path": {"name": "L", "result": "r"},
    "ai_reading": {"name": "A", "result": "r"}
  },
  "fields": {"birth_date": "Birth date", "question": "Question"},
  "errors": {
    "not_understood": "n", "generic": "g", "transient": "t",
    "validation": {"required": "r", "date": "d", "max": "m", "invalid": "i"}
  }`

func writeFixtures(t *testing.T, en string) (flows, locales string) {
	t.Helper()
	flows, locales = t.TempDir(), t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(flows, "main.json"), []byte(testFlow), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(locales, "en.json"), []byte(en), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(locales, "hi.json"), []byte(`{"menu": {"footer": "f", "root": {"prompt": "x"}}}`), 0o600))
	return flows, locales
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateOK(t *testing.T) {
	flows, locales := writeFixtures(t, `{"menu": {"footer": "f", "root": {"prompt": "Hi", "sign": "Sign"}}, `+services+`}`)

	out, err := run(t, "validate", "--flows", flows, "--locales", locales)
	require.NoError(t, err)
	require.Contains(t, out, "ok: 1 flows, 2 languages, 4 services")
	require.Contains(t, out, "note: hi falls back to en")
}

func TestValidateMissingDefaultKey(t *testing.T) {
	flows, locales := writeFixtures(t, `{"menu": {"footer": "f", "root": {"prompt": "Hi"}}, `+services+`}`)

	out, err := run(t, "validate", "--flows", flows, "--locales", locales)
	require.ErrorIs(t, err, errInvalid)
	require.Contains(t, out, "missing en: menu.root.sign")
}

func TestValidateMissingValidationMessage(t *testing.T) {
	en := `{"menu": {"footer": "f", "root": {"prompt": "Hi", "sign": "Sign"}}, ` + services + `}`
	flows, locales := writeFixtures(t, strings.Replace(en, `"date": "d", `, "", 1))

	out, err := run(t, "validate", "--flows", flows, "--locales", locales)
	require.ErrorIs(t, err, errInvalid)
	require.Contains(t, out, "missing en: errors.validation.date")
}

func TestValidateUnknownService(t *testing.T) {
	flows, locales := writeFixtures(t, `{"menu": {"footer": "f", "root": {"prompt": "Hi", "sign": "Sign"}}, `+services+`}`)
	bad := `{"rootStepId": "root", "steps": [{"id": "root", "promptResourceKey": "menu.root.prompt",
	  "options": [{"id": "x", "matchResourceKeyOrPattern": "menu.root.sign", "serviceId": "tarot"}]}]}`
	require.NoError(t, os.WriteFile(filepath.Join(flows, "main.json"), []byte(bad), 0o600))

	out, err := run(t, "validate", "--flows", flows, "--locales", locales)
	require.ErrorIs(t, err, errInvalid)
	require.Contains(t, out, "tarot")
}

func TestValidateShippedResources(t *testing.T) {
	_, err := run(t, "validate", "--flows", "../../resources/flows", "--locales", "../../resources/locales")
	require.NoError(t, err)
}

func TestServicesListsSchema(t *testing.T) {
	out, err := run(t, "services")
	require.NoError(t, err)
	require.Contains(t, out, "horoscope_calc\n  birth_date date required")
	require.Contains(t, out, "ai_reading")
}
