package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(blocks *recordingBlockStore, cfg OrchestratorConfig) *Orchestrator {
	return NewOrchestrator(nil, nil, nil, nil, nil, blocks, cfg, testLogger())
}

func TestNextBlockFreshDeploymentStartsAtConfiguredHeight(t *testing.T) {
	blocks := &recordingBlockStore{}
	o := newTestOrchestrator(blocks, OrchestratorConfig{StartBlock: 14_000_000})

	next, err := o.nextBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(14_000_000), next)
}

func TestNextBlockResumesAfterLatestIngested(t *testing.T) {
	blocks := &recordingBlockStore{latest: 14_500_000, ingested: true}
	o := newTestOrchestrator(blocks, OrchestratorConfig{StartBlock: 14_000_000})

	next, err := o.nextBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(14_500_001), next)
}

func TestNextBlockGenesisEntryIsNotFresh(t *testing.T) {
	// A stored block 0 means ingestion already ran; the configured start
	// must not win over it.
	blocks := &recordingBlockStore{latest: 0, ingested: true}
	o := newTestOrchestrator(blocks, OrchestratorConfig{StartBlock: 14_000_000})

	next, err := o.nextBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), next)
}
