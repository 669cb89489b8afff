package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuota(t *testing.T) {
	q, err := parseQuota("unlimited")
	require.NoError(t, err)
	assert.True(t, q.IsUnlimited())

	q, err = parseQuota("")
	require.NoError(t, err)
	assert.True(t, q.IsUnlimited())

	q, err = parseQuota("3600")
	require.NoError(t, err)
	seconds, limited := q.Seconds()
	assert.True(t, limited)
	assert.Equal(t, 3600.0, seconds)

	q, err = parseQuota("0")
	require.NoError(t, err)
	assert.True(t, q.Exceeded(0), "a zero quota blocks")

	_, err = parseQuota("-1")
	assert.Error(t, err)
	_, err = parseQuota("lots")
	assert.Error(t, err)
}

func TestTeamFlags(t *testing.T) {
	f := newTeamFlags("add-member")
	require.NoError(t, f.parse([]string{"-as", "owner@example.com", "-team", "7f1c8f0e-7d44-4a4e-9b7e-1f2a3b4c5d6e", "-user", "bob@example.com", "-quota", "120"}))

	id, err := f.teamID()
	require.NoError(t, err)
	assert.Equal(t, "7f1c8f0e-7d44-4a4e-9b7e-1f2a3b4c5d6e", id.String())
	assert.Equal(t, "owner@example.com", *f.actor)

	quota, err := f.parsedQuota()
	require.NoError(t, err)
	seconds, _ := quota.Seconds()
	assert.Equal(t, 120.0, seconds)

	bad := newTeamFlags("info")
	require.NoError(t, bad.parse([]string{"-team", "not-a-uuid"}))
	_, err = bad.teamID()
	assert.Error(t, err)
}

func TestCommandsHaveUsage(t *testing.T) {
	for name, cmd := range commands {
		assert.NotEmpty(t, cmd.usage, name)
		assert.NotNil(t, cmd.run, name)
	}
}
