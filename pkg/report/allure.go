package report

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devicelab-dev/mobile-harness/pkg/artifact"
	"github.com/devicelab-dev/mobile-harness/pkg/core"
	"github.com/devicelab-dev/mobile-harness/pkg/logger"
)

var log = logger.ForComponent(logger.CompReport)

// Allure result schema types.

// AllureResult represents a single test result in Allure format.
type AllureResult struct {
	UUID          string              `json:"uuid"`
	HistoryID     string              `json:"historyId"`
	FullName      string              `json:"fullName"`
	Name          string              `json:"name"`
	Status        string              `json:"status"`
	Stage         string              `json:"stage"`
	Start         int64               `json:"start"`
	Stop          int64               `json:"stop"`
	Labels        []AllureLabel       `json:"labels"`
	StatusDetails AllureStatusDetails `json:"statusDetails"`
	Steps         []AllureStep        `json:"steps"`
	Attachments   []AllureAttachment  `json:"attachments"`
}

// AllureContainer groups fixtures shared by every test of one group.
type AllureContainer struct {
	UUID     string       `json:"uuid"`
	Name     string       `json:"name"`
	Children []string     `json:"children"`
	Befores  []AllureStep `json:"befores"`
	Start    int64        `json:"start"`
	Stop     int64        `json:"stop"`
}

// AllureStep represents a step within a test result.
type AllureStep struct {
	Name        string             `json:"name"`
	Status      string             `json:"status"`
	Stage       string             `json:"stage"`
	Start       int64              `json:"start"`
	Stop        int64              `json:"stop"`
	Steps       []AllureStep       `json:"steps"`
	Attachments []AllureAttachment `json:"attachments"`
}

// AllureAttachment represents a file attachment.
type AllureAttachment struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// AllureLabel represents a label on a test result.
type AllureLabel struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AllureStatusDetails holds failure message and trace.
type AllureStatusDetails struct {
	Message string `json:"message"`
	Trace   string `json:"trace"`
}

// AllureCategory defines a failure category with regex matching.
type AllureCategory struct {
	Name            string   `json:"name"`
	MatchedStatuses []string `json:"matchedStatuses"`
	MessageRegex    string   `json:"messageRegex,omitempty"`
}

// AllureExecutor holds executor branding info.
type AllureExecutor struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	ReportURL  string `json:"reportUrl"`
	ReportName string `json:"reportName"`
}

// TagInfrastructure labels results whose failure came from a broken environment.
const TagInfrastructure = "infrastructure"

// Writer streams Allure results into a directory as tests finish.
// It is safe for concurrent use by multiple workers.
type Writer struct {
	dir string
	now func() time.Time

	mu       sync.Mutex
	env      map[string]string
	groups   map[string]*Group
	order    []string
	children map[string][]string
}

// NewWriter creates a writer for dir (usually the artifact store's results directory).
func NewWriter(dir string) *Writer {
	return &Writer{
		dir:      dir,
		now:      time.Now,
		env:      make(map[string]string),
		groups:   make(map[string]*Group),
		children: make(map[string][]string),
	}
}

// Dir returns the results directory.
func (w *Writer) Dir() string { return w.dir }

// SetEnvironment records a key for environment.properties.
func (w *Writer) SetEnvironment(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.env[key] = value
}

// Group returns the fixture container for a test group, creating it on first use.
// Group-level attachments and steps land in the container's setup fixture.
func (w *Writer) Group(name string) *Group {
	w.mu.Lock()
	defer w.mu.Unlock()
	if g, ok := w.groups[name]; ok {
		return g
	}
	g := &Group{w: w, uuid: uuid.NewString(), name: name, start: w.now().UnixMilli()}
	w.groups[name] = g
	w.order = append(w.order, name)
	return g
}

// StartTest opens a result for one test run by worker in group.
func (w *Writer) StartTest(group, name, worker string) *TestCase {
	return &TestCase{
		w:      w,
		uuid:   uuid.NewString(),
		group:  group,
		name:   name,
		worker: worker,
		start:  w.now().UnixMilli(),
	}
}

// writeAttachment stores payload as <uuid>-attachment.<ext>.
func (w *Writer) writeAttachment(label string, payload []byte, mime string) (AllureAttachment, error) {
	source := fmt.Sprintf("%s-attachment.%s", uuid.NewString(), extensionFor(mime))
	if err := artifact.WriteFileAtomic(filepath.Join(w.dir, source), payload); err != nil {
		return AllureAttachment{}, core.ErrArtifactIO.WithMessage("failed to write attachment").WithCause(err).WithDetails(map[string]interface{}{
			"label": label,
		})
	}
	return AllureAttachment{Name: label, Source: source, Type: mime}, nil
}

func (w *Writer) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	if err := artifact.WriteFileAtomic(filepath.Join(w.dir, name), data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Close writes the group containers, categories.json, environment.properties
// and executor.json. Tests started after Close are still written but not
// linked to a container.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	stop := w.now().UnixMilli()
	for _, name := range w.order {
		g := w.groups[name]
		container := g.container(w.children[name], stop)
		if err := w.writeJSON(g.uuid+"-container.json", container); err != nil {
			return err
		}
	}
	if err := w.writeJSON("categories.json", allureCategories()); err != nil {
		return err
	}
	if err := w.writeEnvironment(); err != nil {
		return err
	}
	return w.writeJSON("executor.json", AllureExecutor{
		Name:       "DeviceLab",
		Type:       "devicelab",
		ReportURL:  "https://devicelab.dev",
		ReportName: "mobile-harness",
	})
}

// writeEnvironment writes environment.properties in sorted key order.
func (w *Writer) writeEnvironment() error {
	keys := make([]string, 0, len(w.env))
	for k := range w.env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("framework=mobile-harness\n")
	for _, k := range keys {
		b.WriteString(fmt.Sprintf("%s=%s\n", k, w.env[k]))
	}
	if err := artifact.WriteFileAtomic(filepath.Join(w.dir, "environment.properties"), []byte(b.String())); err != nil {
		return fmt.Errorf("write environment.properties: %w", err)
	}
	return nil
}

func (w *Writer) addChild(group, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.children[group] = append(w.children[group], id)
}

// Group is the shared setup fixture of one test group. It implements Sink.
type Group struct {
	w     *Writer
	uuid  string
	name  string
	start int64

	mu          sync.Mutex
	steps       []AllureStep
	attachments []AllureAttachment
}

// Attach writes the payload and adds it to the group fixture.
func (g *Group) Attach(label string, payload []byte, mime string) (string, error) {
	a, err := g.w.writeAttachment(label, payload, mime)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	g.attachments = append(g.attachments, a)
	g.mu.Unlock()
	return a.Source, nil
}

// Step adds a finished step to the group fixture.
func (g *Group) Step(name string) {
	now := g.w.now().UnixMilli()
	g.mu.Lock()
	g.steps = append(g.steps, AllureStep{
		Name: name, Status: "passed", Stage: "finished", Start: now, Stop: now,
		Steps: []AllureStep{}, Attachments: []AllureAttachment{},
	})
	g.mu.Unlock()
}

func (g *Group) container(children []string, stop int64) AllureContainer {
	g.mu.Lock()
	defer g.mu.Unlock()
	if children == nil {
		children = []string{}
	}
	fixture := AllureStep{
		Name:        "Test group setup",
		Status:      "passed",
		Stage:       "finished",
		Start:       g.start,
		Stop:        stop,
		Steps:       append([]AllureStep{}, g.steps...),
		Attachments: append([]AllureAttachment{}, g.attachments...),
	}
	return AllureContainer{
		UUID:     g.uuid,
		Name:     g.name,
		Children: children,
		Befores:  []AllureStep{fixture},
		Start:    g.start,
		Stop:     stop,
	}
}

// TestCase accumulates one test's steps and attachments. It implements Sink.
type TestCase struct {
	w      *Writer
	uuid   string
	group  string
	name   string
	worker string
	start  int64

	mu          sync.Mutex
	labels      []AllureLabel
	steps       []AllureStep
	attachments []AllureAttachment
	finished    bool
}

// ID returns the result uuid.
func (t *TestCase) ID() string { return t.uuid }

// Label adds a label such as host or tag.
func (t *TestCase) Label(name, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.labels = append(t.labels, AllureLabel{Name: name, Value: value})
}

// Attach writes the payload and adds it to the test result.
func (t *TestCase) Attach(label string, payload []byte, mime string) (string, error) {
	a, err := t.w.writeAttachment(label, payload, mime)
	if err != nil {
		return "", err
	}
	t.mu.Lock()
	t.attachments = append(t.attachments, a)
	t.mu.Unlock()
	return a.Source, nil
}

// Step adds a finished step to the test result.
func (t *TestCase) Step(name string) {
	now := t.w.now().UnixMilli()
	t.mu.Lock()
	t.steps = append(t.steps, AllureStep{
		Name: name, Status: "passed", Stage: "finished", Start: now, Stop: now,
		Steps: []AllureStep{}, Attachments: []AllureAttachment{},
	})
	t.mu.Unlock()
}

// Finish writes <uuid>-result.json. Calling Finish twice is a no-op.
func (t *TestCase) Finish(status core.TestStatus, err error) error {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return nil
	}
	t.finished = true
	result := t.result(status, err)
	t.mu.Unlock()

	if werr := t.w.writeJSON(t.uuid+"-result.json", result); werr != nil {
		log.Warn("failed to write test result", "test", t.name, "error", werr)
		return core.ErrArtifactIO.WithCause(werr)
	}
	t.w.addChild(t.group, t.uuid)
	return nil
}

func (t *TestCase) result(status core.TestStatus, err error) AllureResult {
	labels := []AllureLabel{
		{Name: "suite", Value: t.group},
		{Name: "framework", Value: "mobile-harness"},
		{Name: "thread", Value: t.worker},
		{Name: "severity", Value: "normal"},
	}
	if host, herr := os.Hostname(); herr == nil {
		labels = append(labels, AllureLabel{Name: "host", Value: host})
	}
	labels = append(labels, t.labels...)

	var details AllureStatusDetails
	if err != nil {
		details.Message = err.Error()
		if core.IsInfrastructure(err) {
			labels = append(labels, AllureLabel{Name: "tag", Value: TagInfrastructure})
		}
	}

	steps := t.steps
	if steps == nil {
		steps = []AllureStep{}
	}
	attachments := t.attachments
	if attachments == nil {
		attachments = []AllureAttachment{}
	}

	return AllureResult{
		UUID:          t.uuid,
		HistoryID:     fnv32aHash(t.group + ":" + t.name),
		FullName:      t.group + "." + t.name,
		Name:          t.name,
		Status:        mapAllureStatus(status, err),
		Stage:         "finished",
		Start:         t.start,
		Stop:          t.w.now().UnixMilli(),
		Labels:        labels,
		StatusDetails: details,
		Steps:         steps,
		Attachments:   attachments,
	}
}

// mapAllureStatus maps a test status to the Allure status string.
// Infrastructure failures are reported as broken.
func mapAllureStatus(s core.TestStatus, err error) string {
	switch s {
	case core.StatusPassed:
		return "passed"
	case core.StatusFailed:
		if core.IsInfrastructure(err) {
			return "broken"
		}
		return "failed"
	case core.StatusErrored:
		return "broken"
	case core.StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// fnv32aHash returns a hex-encoded FNV-32a hash of the input string.
func fnv32aHash(s string) string {
	h := fnv.New32a()
	h.Write([]byte(s))
	return fmt.Sprintf("%08x", h.Sum32())
}

func allureCategories() []AllureCategory {
	return []AllureCategory{
		{Name: "Environment broken", MatchedStatuses: []string{"broken"}},
		{Name: "Element Not Found", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*element not found.*"},
		{Name: "Action Failed", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*action failed.*"},
		{Name: "Input Error", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*text input failed.*|.*keyboard.*"},
		{Name: "Timeout", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*timeout.*|.*timed out.*"},
		{Name: "Assertion Failed", MatchedStatuses: []string{"failed"}, MessageRegex: "(?i).*assert.*"},
	}
}

func extensionFor(mime string) string {
	switch mime {
	case core.ContentTypePNG:
		return "png"
	case core.ContentTypeJSON:
		return "json"
	case core.ContentTypeText:
		return "txt"
	default:
		return "bin"
	}
}
