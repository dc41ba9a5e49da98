// Package dataset loads the ABCD customer-service corpus and derives the
// query, transcript and reference answer the evaluation works from.
package dataset

import (
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// File names looked up when Load is given a directory.
const (
	DatasetFile   = "abcd_v1.1.json"
	DatasetFileGz = "abcd_v1.1.json.gz"
	KBFile        = "kb.json"
)

// ErrNoDataset is returned when no dataset file exists at the given path.
var ErrNoDataset = errors.New("dataset not found")

// Speakers of original transcript turns.
const (
	SpeakerCustomer = "customer"
	SpeakerAgent    = "agent"
	SpeakerAction   = "action"
)

// Turn is one utterance of the original transcript. The corpus encodes it
// as a [speaker, text] pair.
type Turn struct {
	Speaker string
	Text    string
}

// UnmarshalJSON decodes the [speaker, text] pair form.
func (t *Turn) UnmarshalJSON(b []byte) error {
	var pair []string
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("decoding turn: %w", err)
	}
	if len(pair) < 2 {
		return fmt.Errorf("decoding turn: want [speaker, text], got %d elements", len(pair))
	}
	t.Speaker, t.Text = pair[0], pair[1]
	return nil
}

// MarshalJSON encodes the turn as a [speaker, text] pair.
func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.Speaker, t.Text})
}

// DelexedTurn is an annotated turn. Targets holds the intent, next step and
// action name followed by values of mixed type.
type DelexedTurn struct {
	Speaker string            `json:"speaker"`
	Text    string            `json:"text"`
	Targets []json.RawMessage `json:"targets"`
}

// Target returns targets[i] when it is a string, or "".
func (d DelexedTurn) Target(i int) string {
	if i < 0 || i >= len(d.Targets) {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.Targets[i], &s); err != nil {
		return ""
	}
	return s
}

// Scenario describes what the conversation is about.
type Scenario struct {
	Flow    string `json:"flow"`
	Subflow string `json:"subflow"`
}

// Conversation is one ABCD dialogue.
type Conversation struct {
	ID       string        `json:"-"`
	RawID    json.Number   `json:"convo_id"`
	Scenario Scenario      `json:"scenario"`
	Original []Turn        `json:"original"`
	Delexed  []DelexedTurn `json:"delexed"`
}

// Query simulates what the customer would type first: up to three customer
// utterances before the first action, joined by spaces.
func (c Conversation) Query() string {
	var lines []string
	for _, t := range c.Original {
		if t.Speaker == SpeakerAction {
			break
		}
		if t.Speaker == SpeakerCustomer {
			lines = append(lines, t.Text)
			if len(lines) >= 3 {
				break
			}
		}
	}
	return strings.Join(lines, " ")
}

// Transcript renders the full dialogue as "Speaker: text" lines.
func (c Conversation) Transcript() string {
	lines := make([]string, len(c.Original))
	for i, t := range c.Original {
		lines[i] = capitalize(t.Speaker) + ": " + t.Text
	}
	return strings.Join(lines, "\n")
}

// GroundTruth is what the human agent said, used as the judge's reference.
func (c Conversation) GroundTruth() string {
	var lines []string
	for _, t := range c.Original {
		if t.Speaker == SpeakerAgent {
			lines = append(lines, t.Text)
		}
	}
	return strings.Join(lines, "\n")
}

// Actions returns the action names the agent took, in order.
func (c Conversation) Actions() []string {
	var actions []string
	for _, d := range c.Delexed {
		if d.Target(1) == "take_action" {
			if a := d.Target(2); a != "" {
				actions = append(actions, a)
			}
		}
	}
	return actions
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}

// Corpus maps split names to their conversations.
type Corpus map[string][]Conversation

// Splits returns the split names in sorted order.
func (c Corpus) Splits() []string {
	names := make([]string, 0, len(c))
	for k := range c {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Split returns the named split.
func (c Corpus) Split(name string) ([]Conversation, error) {
	convs, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("split %q not in dataset (available: %s)", name, strings.Join(c.Splits(), ", "))
	}
	return convs, nil
}

// Load reads the corpus from path. A directory is searched for the plain
// file first and then the gzipped one; a file ending in .gz is
// decompressed.
func Load(path string) (Corpus, error) {
	file, err := resolve(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(file, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip dataset %s: %w", file, err)
		}
		defer gz.Close()
		r = gz
	}
	return Decode(r)
}

// Decode parses a corpus document.
func Decode(r io.Reader) (Corpus, error) {
	var corpus Corpus
	if err := json.NewDecoder(r).Decode(&corpus); err != nil {
		return nil, fmt.Errorf("decoding dataset: %w", err)
	}
	for _, convs := range corpus {
		for i := range convs {
			convs[i].ID = convs[i].RawID.String()
		}
	}
	return corpus, nil
}

// LoadSplit loads the named split and keeps at most size conversations.
// A size <= 0 keeps the whole split.
func LoadSplit(path, split string, size int) ([]Conversation, error) {
	corpus, err := Load(path)
	if err != nil {
		return nil, err
	}
	convs, err := corpus.Split(split)
	if err != nil {
		return nil, err
	}
	if size > 0 && size < len(convs) {
		convs = convs[:size]
	}
	return convs, nil
}

func resolve(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w at %s", ErrNoDataset, path)
		}
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	for _, name := range []string{DatasetFile, DatasetFileGz} {
		p := filepath.Join(path, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w in %s (looked for %s, %s)", ErrNoDataset, path, DatasetFile, DatasetFileGz)
}
