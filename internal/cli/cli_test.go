package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})
	err := Execute(context.Background())
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"serve"},
		{"migrate", "up"},
		{"migrate", "version"},
		{"account", "init"},
		{"credit"},
		{"deduct"},
		{"balance"},
		{"history"},
		{"reconcile"},
		{"reservation", "list"},
		{"reservation", "commit"},
		{"reservation", "release"},
		{"reservation", "expire"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestWalletCommandsValidateArgs(t *testing.T) {
	_, err := execute(t, "credit", "u1")
	assert.Error(t, err)

	_, err = execute(t, "balance")
	assert.Error(t, err)
}

func TestReservationCommandsValidateArgs(t *testing.T) {
	_, err := execute(t, "reservation", "release", "u1")
	assert.Error(t, err)

	_, err = execute(t, "reservation", "commit", "u1", "not-an-id")
	assert.ErrorContains(t, err, "not-an-id")

	_, err = execute(t, "reservation", "expire", "u1", "--older-than", "0s")
	assert.ErrorContains(t, err, "--older-than")
}

func TestParseReservationID(t *testing.T) {
	id, err := parseReservationID(" 1790000000000000001 ")
	require.NoError(t, err)
	assert.Equal(t, "1790000000000000001", id.String())

	_, err = parseReservationID("-4")
	assert.Error(t, err)
}

func TestParseAmount(t *testing.T) {
	amount, err := parseAmount("25")
	require.NoError(t, err)
	assert.Equal(t, int64(25), amount)

	_, err = parseAmount("2.5")
	assert.Error(t, err)
}

func TestMigrateRefusesMongoStore(t *testing.T) {
	t.Setenv("LEDGER_STORE", "mongo")

	_, err := execute(t, "migrate", "up")
	assert.ErrorIs(t, err, errMongoMigrations)
}

func TestPrintJSON(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, printJSON(rootCmd, map[string]int{"balance": 3}))
	assert.JSONEq(t, `{"balance": 3}`, out.String())
}

func TestReconcileNeedsUserOrAll(t *testing.T) {
	_, err := execute(t, "reconcile")
	assert.ErrorContains(t, err, "--all")

	_, err = execute(t, "reconcile", "u1", "--all")
	assert.ErrorContains(t, err, "--all")
}
