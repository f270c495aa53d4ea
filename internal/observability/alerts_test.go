package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/fulfillment/internal/fulfillment"
)

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type ruleFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

var (
	seriesPattern  = regexp.MustCompile(`(odyssey_[a-z_]+)(\{[^}]*\})?`)
	matcherPattern = regexp.MustCompile(`([a-z_]+)\s*(?:=~|!~|!=|=)\s*"([^"]*)"`)
)

func loadFulfillmentRules(t *testing.T) []alertRule {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("..", "..", "deploy", "prometheus", "alerts", "fulfillment.yml"))
	if err != nil {
		t.Fatalf("read alert file: %v", err)
	}
	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		t.Fatalf("unmarshal alert file: %v", err)
	}
	for _, g := range file.Groups {
		if g.Name == "fulfillment" {
			return g.Rules
		}
	}
	t.Fatal("fulfillment alert group missing")
	return nil
}

// registeredLabels exercises every collector once and returns the label names
// of each exposed metric family.
func registeredLabels(t *testing.T) map[string]map[string]bool {
	t.Helper()
	m := NewMetrics()
	m.ObserveSubmission("partial")
	m.ObserveViolations([]fulfillment.AllocationError{fulfillment.NothingAllocated()})
	m.ObservePayment("applied")
	m.Jobs().AddTransition("Posted", "Delivered")
	_ = m.Jobs().Track("fulfillment:status_refresh").End(errors.New("boom"))
	m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	families, err := m.registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	out := make(map[string]map[string]bool, len(families))
	for _, mf := range families {
		labels := map[string]bool{}
		for _, metric := range mf.GetMetric() {
			for _, pair := range metric.GetLabel() {
				labels[pair.GetName()] = true
			}
		}
		out[mf.GetName()] = labels
	}
	return out
}

func TestFulfillmentAlertRules(t *testing.T) {
	rules := loadFulfillmentRules(t)

	expected := map[string]struct {
		severity string
		anchor   string
	}{
		"HighErrorRate":         {severity: "critical", anchor: "high-error-rate"},
		"PartialSubmissions":    {severity: "warning", anchor: "partial-submissions"},
		"StatusRefreshFailures": {severity: "warning", anchor: "status-refresh-failures"},
	}
	if len(rules) != len(expected) {
		t.Fatalf("expected %d rules, got %d", len(expected), len(rules))
	}

	runbook, err := os.ReadFile(filepath.Join("..", "..", "docs", "runbook-fulfillment.md"))
	if err != nil {
		t.Fatalf("read runbook: %v", err)
	}

	for _, rule := range rules {
		want, ok := expected[rule.Alert]
		if !ok {
			t.Fatalf("unexpected rule %q", rule.Alert)
		}
		if rule.Labels["severity"] != want.severity {
			t.Errorf("rule %s severity = %q, want %q", rule.Alert, rule.Labels["severity"], want.severity)
		}
		if rule.Annotations["runbook"] != "docs/runbook-fulfillment.md#"+want.anchor {
			t.Errorf("rule %s runbook = %q", rule.Alert, rule.Annotations["runbook"])
		}
		if !strings.Contains(strings.ToLower(string(runbook)), "## "+strings.ReplaceAll(want.anchor, "-", " ")) {
			t.Errorf("runbook has no section for anchor %s", want.anchor)
		}
		if rule.Annotations["summary"] == "" || rule.Annotations["description"] == "" || rule.For == "" {
			t.Errorf("rule %s needs summary, description and for", rule.Alert)
		}
	}
}

func TestAlertExpressionsUseRegisteredSeries(t *testing.T) {
	labels := registeredLabels(t)

	// label values the alerts select on must be values the code emits
	emitted := map[string]map[string]bool{
		"outcome": {"partial": true},
		"job":     {"fulfillment:status_refresh": true},
	}

	for _, rule := range loadFulfillmentRules(t) {
		series := seriesPattern.FindAllStringSubmatch(rule.Expr, -1)
		if len(series) == 0 {
			t.Errorf("rule %s references no odyssey series", rule.Alert)
			continue
		}
		for _, s := range series {
			name, selector := s[1], s[2]
			known, ok := labels[name]
			if !ok {
				t.Errorf("rule %s uses %s, which is not registered", rule.Alert, name)
				continue
			}
			for _, m := range matcherPattern.FindAllStringSubmatch(selector, -1) {
				label, value := m[1], m[2]
				if !known[label] {
					t.Errorf("rule %s filters %s on unknown label %s", rule.Alert, name, label)
				}
				if values, ok := emitted[label]; ok && !values[value] {
					t.Errorf("rule %s selects %s=%q, which is never emitted", rule.Alert, label, value)
				}
			}
		}
	}
}
