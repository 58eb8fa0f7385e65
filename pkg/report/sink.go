// Package report writes test outcomes, step annotations and attachments
// in Allure result format.
package report

import "sync"

// Sink accepts named attachments and step annotations.
type Sink interface {
	// Attach stores payload under label and returns the attachment source name.
	Attach(label string, payload []byte, mime string) (string, error)
	Step(name string)
}

// Discard is a Sink that drops everything.
var Discard Sink = discard{}

type discard struct{}

func (discard) Attach(string, []byte, string) (string, error) { return "", nil }
func (discard) Step(string)                                   {}

// Memory is an in-process Sink, used by the CLI and tests.
type Memory struct {
	mu          sync.Mutex
	Attachments []MemoryAttachment
	Steps       []string
}

// MemoryAttachment is one recorded attachment.
type MemoryAttachment struct {
	Label   string
	Payload []byte
	MIME    string
}

// Attach records the attachment.
func (m *Memory) Attach(label string, payload []byte, mime string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Attachments = append(m.Attachments, MemoryAttachment{Label: label, Payload: payload, MIME: mime})
	return label, nil
}

// Step records the step name.
func (m *Memory) Step(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Steps = append(m.Steps, name)
}

// Find returns the payload of the first attachment with label.
func (m *Memory) Find(label string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.Attachments {
		if a.Label == label {
			return string(a.Payload), true
		}
	}
	return "", false
}

// Labels returns every attachment label in order.
func (m *Memory) Labels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Attachments))
	for i, a := range m.Attachments {
		out[i] = a.Label
	}
	return out
}
