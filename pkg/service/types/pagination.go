package types

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

const DefaultPageSize = 20
const MaxPageSize = 100

func NewDefaultPagination() *Pagination {
	return &Pagination{
		Limit:  DefaultPageSize,
		Offset: 0,
	}
}

func (p *Pagination) Load(limit int, offset int) {
	p.Offset = offset
	if limit != 0 {
		p.Limit = limit
	}
}

// Resolve validates the window and clamps the limit to maxPageSize. A zero limit takes defaultPageSize.
func (p *Pagination) Resolve(defaultPageSize int, maxPageSize int) (*Pagination, error) {
	if p == nil {
		p = &Pagination{}
	}
	if p.Limit < 0 {
		return nil, NewInvalidArgumentError("limit", "must not be negative")
	}
	if p.Offset < 0 {
		return nil, NewInvalidArgumentError("offset", "must not be negative")
	}
	if defaultPageSize <= 0 {
		defaultPageSize = DefaultPageSize
	}
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}

	resolved := &Pagination{Limit: p.Limit, Offset: p.Offset}
	if resolved.Limit == 0 {
		resolved.Limit = defaultPageSize
	}
	resolved.Limit = min(resolved.Limit, maxPageSize)
	return resolved, nil
}

// HasMore reports whether rows remain past this page.
func (p *Pagination) HasMore(returned int, total int64) bool {
	return int64(p.Offset+returned) < total
}
