package scraper

import (
	"auction-tracker/internal/classify"
)

type fakeNoMatchStore struct {
	sent map[string]bool
}

func (s *fakeNoMatchStore) IsNoMatchSent(lotID string) (bool, error) {
	return s.sent[lotID], nil
}

func (s *fakeNoMatchStore) MarkNoMatchSent(lotID string) error {
	s.sent[lotID] = true
	return nil
}

type fakeNotifier struct {
	messages []string
}

func (n *fakeNotifier) NotifyOperators(text string) error {
	n.messages = append(n.messages, text)
	return nil
}

type fakeDupChecker struct {
	duplicates map[string]bool
}

func (d *fakeDupChecker) IsDuplicateByDescription(number, title string) (bool, error) {
	return d.duplicates[title], nil
}

// newTestFilter builds a filter that accepts Sevastopol lease/sale lots.
func newTestFilter() *Filter {
	classifier := classify.New(
		[]string{"аренда", "продажа", "помещение"},
		[]string{"подвал"},
		classify.RegionSignature{
			NumberPrefixes:    []string{"91:"},
			CadastralPrefixes: []string{"91:"},
			AddressKeywords:   []string{"севастополь"},
		},
		&fakeNoMatchStore{sent: make(map[string]bool)},
		&fakeNotifier{},
	)
	return &Filter{
		Classifier: classifier,
		Duplicates: &fakeDupChecker{duplicates: make(map[string]bool)},
	}
}

// newTestClient builds a client with no pacing or retries for fast tests.
func newTestClient() *Client {
	return NewClient(ClientConfig{MaxRetries: 1})
}
