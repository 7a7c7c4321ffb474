package agentrt

import (
	"os"
	"regexp"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"voxmail/internal/logging"
)

// RouterAgentID is the id of the root routing agent.
const RouterAgentID = "router"

// Specialist is one configured backend agent bound to a tool subset.
type Specialist struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	System      string   `yaml:"system"`
	Tools       []string `yaml:"tools"`
	Contains    []string `yaml:"contains"`
	Regex       []string `yaml:"regex"`
}

// DefaultSpecialists are the five built-in agents used when no
// specialists.yaml overrides them.
func DefaultSpecialists() []Specialist {
	return []Specialist{
		{
			Name:        "EmailOps",
			Description: "finds, lists and summarizes individual emails",
			System:      "You operate on the user's mailbox. Use the tools to search, list and summarize email. Answer concisely with concrete senders, subjects and dates.",
			Tools:       []string{"search_emails", "list_unread_messages", "list_recent_emails", "analyze_emails"},
			Contains:    []string{"find", "search", "look for", "unread", "inbox", "recent"},
		},
		{
			Name:        "Insight",
			Description: "aggregates, counts and triages across the mailbox",
			System:      "You compute mailbox-wide insight. Prefer aggregate_emails and count_emails for quantities, triage_recent_emails for urgency questions.",
			Tools:       []string{"aggregate_emails", "count_emails", "triage_recent_emails", "analyze_emails", "search_emails"},
			Contains:    []string{"how many", "count", "most", "urgent", "priority", "triage", "breakdown", "summary of"},
		},
		{
			Name:        "Contacts",
			Description: "answers questions about people",
			System:      "You answer questions about the user's contacts. Use list_contacts and search_emails to connect people to conversations.",
			Tools:       []string{"list_contacts", "search_emails"},
			Contains:    []string{"contact", "who is", "people", "person"},
		},
		{
			Name:        "Calendar",
			Description: "answers questions about events and meetings",
			System:      "You answer questions about the user's calendar. Use list_events; correlate with email via search_emails when asked.",
			Tools:       []string{"list_events", "search_emails"},
			Contains:    []string{"calendar", "event", "meeting", "schedule", "appointment"},
		},
		{
			Name:        "Automation",
			Description: "starts and reports mailbox syncs",
			System:      "You manage mailbox ingestion. Use sync_start for incremental syncs and backfill_start for history.",
			Tools:       []string{"sync_start", "backfill_start", "count_emails"},
			Contains:    []string{"sync", "backfill", "ingest", "index", "refresh"},
		},
	}
}

type specialistsFile struct {
	Specialists []Specialist `yaml:"specialists"`
}

// LoadSpecialists reads specialist definitions from a YAML file, falling
// back to the defaults when the file is absent or unreadable.
func LoadSpecialists(path string) []Specialist {
	if path == "" {
		return DefaultSpecialists()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSpecialists()
	}
	var f specialistsFile
	if err := yaml.Unmarshal(data, &f); err != nil || len(f.Specialists) == 0 {
		logging.Log.WithField("path", path).WithError(err).Warn("specialists file unusable, using defaults")
		return DefaultSpecialists()
	}
	return f.Specialists
}

// Route returns the first specialist whose keywords or patterns match the
// text; the first specialist is the fallback.
func Route(specialists []Specialist, text string) *Specialist {
	if len(specialists) == 0 {
		return nil
	}
	lc := strings.ToLower(text)
	for i := range specialists {
		s := &specialists[i]
		for _, c := range s.Contains {
			c = strings.ToLower(strings.TrimSpace(c))
			if c != "" && strings.Contains(lc, c) {
				return s
			}
		}
		for _, pat := range s.Regex {
			pat = strings.TrimSpace(pat)
			if pat == "" {
				continue
			}
			re, err := regexp.Compile(pat)
			if err != nil {
				continue
			}
			if re.MatchString(text) {
				return s
			}
		}
	}
	return &specialists[0]
}

// AgentID is the stable id of a specialist in events and the call graph.
func (s *Specialist) AgentID() string {
	var b strings.Builder
	prevLower := false
	for _, r := range s.Name {
		switch {
		case r == ' ':
			b.WriteByte('-')
			prevLower = false
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte('-')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		default:
			b.WriteRune(r)
			prevLower = unicode.IsLower(r) || unicode.IsDigit(r)
		}
	}
	return b.String()
}
