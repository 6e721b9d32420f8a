package handlers

import (
	"sync"

	"github.com/Perceptus-Labs/perceptus-agent/models"
)

// realtimeRelay shares the agent's single realtime stream between UI
// sessions. The stream runs while at least one session is subscribed.
type realtimeRelay struct {
	mu   sync.Mutex
	subs map[string]func(models.ActionSuggestion)
}

func (r *realtimeRelay) subscribe(agent Agent, id string, deliver func(models.ActionSuggestion)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Starting is a no-op while the stream runs, and restarts it if the
	// agent stopped it underneath us.
	if err := agent.StartRealtimeAnalysis(r.broadcast); err != nil {
		return err
	}
	if r.subs == nil {
		r.subs = make(map[string]func(models.ActionSuggestion))
	}
	r.subs[id] = deliver
	return nil
}

func (r *realtimeRelay) unsubscribe(agent Agent, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return
	}
	delete(r.subs, id)
	if len(r.subs) == 0 {
		agent.StopRealtimeAnalysis()
	}
}

func (r *realtimeRelay) broadcast(s models.ActionSuggestion) {
	r.mu.Lock()
	targets := make([]func(models.ActionSuggestion), 0, len(r.subs))
	for _, deliver := range r.subs {
		targets = append(targets, deliver)
	}
	r.mu.Unlock()

	for _, deliver := range targets {
		deliver(s)
	}
}
