package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"techclinic/internal/config"
	"techclinic/internal/testutil"
)

func setupCLI(t *testing.T) (*testutil.FakeAPI, *cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	fake := testutil.NewFakeAPI(t)
	cfg = config.Default()
	cfg.API.BaseURL = fake.URL()
	cfg.API.Token = testutil.FakeToken
	logger = zaptest.NewLogger(t)
	jobsSearch, jobsFormat, jobsOutput = "", "csv", ""

	var stdout, stderr bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetContext(context.Background())
	return fake, cmd, &stdout, &stderr
}

func TestJobsList(t *testing.T) {
	_, cmd, stdout, _ := setupCLI(t)
	jobsSearch = "pending"

	require.NoError(t, runJobsList(cmd, nil))
	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
	assert.Contains(t, lines[1], "Ali Hassan (5550001111)")
}

func TestJobsListSampleFallback(t *testing.T) {
	fake, cmd, stdout, stderr := setupCLI(t)
	fake.FailOn("GET", "/api/repair-jobs", testutil.NetworkError)

	require.NoError(t, runJobsList(cmd, nil))
	assert.Contains(t, stderr.String(), "warning: Failed to fetch repair jobs. Using fallback data.")
	assert.Contains(t, stderr.String(), "(sample data)")
	assert.Len(t, strings.Split(strings.TrimSpace(stdout.String()), "\n"), 3)
}

func TestJobsRequiresToken(t *testing.T) {
	_, cmd, _, _ := setupCLI(t)
	cfg.API.Token = ""
	assert.Error(t, runJobsList(cmd, nil))
}

func TestJobsExportCSV(t *testing.T) {
	_, cmd, stdout, _ := setupCLI(t)

	require.NoError(t, runJobsExport(cmd, nil))
	assert.True(t, strings.HasPrefix(stdout.String(), "ID,Customer,Status,Notes,Created At"))
}

func TestLogin(t *testing.T) {
	_, cmd, stdout, _ := setupCLI(t)
	loginUser, loginPassword = "admin", ""
	cmd.SetIn(strings.NewReader("secret\n"))
	t.Setenv("TECHCLINIC_PASSWORD", "")

	require.NoError(t, runLogin(cmd, nil))
	assert.Equal(t, testutil.FakeToken+"\n", stdout.String())

	loginPassword = "wrong"
	err := runLogin(cmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
}

func TestOneLine(t *testing.T) {
	assert.Equal(t, "a b", oneLine("a\n  b", 10))
	assert.Equal(t, "abcd…", oneLine("abcdefgh", 5))
}
