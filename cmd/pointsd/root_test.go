package main

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/fixture"
	"github.com/warp/points-engine/points"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCLI_SeedProcessRecalc(t *testing.T) {
	// GIVEN: An empty database file and no config file
	db := filepath.Join(t.TempDir(), "points.db")
	global := []string{"--db", db, "--config", "", "--log-level", "warn"}

	// WHEN: Seeding the demo fixture
	out, err := execute(t, append([]string{"seed", "../../fixture/testdata/demo.yaml"}, global...)...)
	require.NoError(t, err, out)
	var sum fixture.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &sum))
	assert.Equal(t, 4, sum.Documents)

	// WHEN: Running a pass
	out, err = execute(t, append([]string{"process"}, global...)...)
	require.NoError(t, err, out)
	var res points.RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 3, res.Processed)

	// WHEN: Rebuilding a customer
	out, err = execute(t, append([]string{"recalc", "C001"}, global...)...)
	require.NoError(t, err, out)
	var bal points.CustomerBalance
	require.NoError(t, json.Unmarshal([]byte(out), &bal))

	// THEN: The balance survives the rebuild
	assert.Equal(t, "2", bal.PointBalance.String())
}

func TestCLI_Errors(t *testing.T) {
	db := filepath.Join(t.TempDir(), "points.db")

	_, err := execute(t, "recalc", "NOBODY", "--db", db, "--config", "")
	assert.ErrorIs(t, err, points.ErrCustomerNotFound)

	_, err = execute(t, "process", "--db", db, "--config", "", "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")

	_, err = execute(t, "seed", "missing.yaml", "--db", db, "--config", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read fixture")
}
