package chain

import (
	"sort"
	"strings"

	"github.com/smallbiznis/settlement/internal/chain/domain"
)

// Registry resolves the reader serving each configured chain.
type Registry struct {
	readers map[string]domain.Reader
}

func NewRegistry(readers ...domain.Reader) *Registry {
	r := &Registry{readers: make(map[string]domain.Reader, len(readers))}
	for _, reader := range readers {
		if reader == nil {
			continue
		}
		r.readers[strings.ToLower(reader.Chain())] = reader
	}
	return r
}

func (r *Registry) Reader(chain string) (domain.Reader, error) {
	reader, ok := r.readers[strings.ToLower(strings.TrimSpace(chain))]
	if !ok {
		return nil, domain.ErrUnknownChain
	}
	return reader, nil
}

func (r *Registry) Chains() []string {
	chains := make([]string, 0, len(r.readers))
	for name := range r.readers {
		chains = append(chains, name)
	}
	sort.Strings(chains)
	return chains
}
