package persona

import (
	"context"
	"sync"
)

// Interceptor mutates the message window before a persona model invocation.
// Interceptors run in registration order on every invocation.
type Interceptor interface {
	BeforeGenerate(ctx context.Context, messages []Message) []Message
}

// InterceptorFunc adapts a function to the Interceptor interface.
type InterceptorFunc func(ctx context.Context, messages []Message) []Message

// BeforeGenerate calls f.
func (f InterceptorFunc) BeforeGenerate(ctx context.Context, messages []Message) []Message {
	return f(ctx, messages)
}

// ReminderInterceptor appends a one-shot system directive to the next
// invocation only. The guardrail filter arms it when a representative turn
// drifts off-topic; the reminder steers the persona back without becoming a
// permanent part of the context.
type ReminderInterceptor struct {
	mu      sync.Mutex
	pending string
}

// NewReminderInterceptor creates an unarmed interceptor.
func NewReminderInterceptor() *ReminderInterceptor {
	return &ReminderInterceptor{}
}

// Arm schedules a reminder for the next invocation, replacing any reminder
// not yet delivered.
func (r *ReminderInterceptor) Arm(reminder string) {
	r.mu.Lock()
	r.pending = reminder
	r.mu.Unlock()
}

// BeforeGenerate appends the pending reminder as a system message and
// disarms.
func (r *ReminderInterceptor) BeforeGenerate(_ context.Context, messages []Message) []Message {
	r.mu.Lock()
	reminder := r.pending
	r.pending = ""
	r.mu.Unlock()
	if reminder == "" {
		return messages
	}
	return append(messages, Message{Role: RoleSystem, Content: reminder})
}
