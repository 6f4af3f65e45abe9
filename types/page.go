package types

// Page is one page of user records together with pagination bookkeeping.
// Total counts the filtered set, i.e. after exclusions are applied.
type Page struct {
	Users   []User `json:"users"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	PerPage int    `json:"per_page"`
}

// Pages reports the number of pages the filtered set spans.
func (p Page) Pages() int {
	if p.PerPage < 1 {
		return 0
	}
	return (p.Total + p.PerPage - 1) / p.PerPage
}
