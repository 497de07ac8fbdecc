package meter

import "github.com/promptforge/promptforge"

// NoopMeter is a meter that does nothing.
type NoopMeter struct{}

var _ promptforge.Meter = (*NoopMeter)(nil)

func (m *NoopMeter) OnRequest(promptforge.RequestEvent) {}
func (m *NoopMeter) OnResult(promptforge.ResultEvent)   {}
