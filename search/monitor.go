package search

import (
	"github.com/poiesic/insightmail/core"
)

// SearchMonitor provides hooks to observe the answer pipeline.
// Implement this interface to track intermediate steps and results.
type SearchMonitor interface {
	Start(query string)
	AfterEmbed(vector []float32)
	AfterSearch(candidates []core.Source)
	ContextAssembled(sources []core.Source, contextRunes int)
	Finish(result *core.QueryResult)
}

// noopMonitor is a no-op implementation of SearchMonitor
type noopMonitor struct{}

var _ SearchMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_ string)                         {}
func (n *noopMonitor) AfterEmbed(_ []float32)                 {}
func (n *noopMonitor) AfterSearch(_ []core.Source)            {}
func (n *noopMonitor) ContextAssembled(_ []core.Source, _ int) {}
func (n *noopMonitor) Finish(_ *core.QueryResult)             {}
