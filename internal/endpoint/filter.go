package endpoint

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/clafollett/mcpgen/internal/schema"
)

// Filter selects which operations become endpoints. Empty lists do not
// restrict anything.
type Filter struct {
	// IncludeTags keeps operations with at least one of these tags.
	IncludeTags []string
	// ExcludeTags drops operations with any of these tags.
	ExcludeTags []string
	// Methods keeps operations using one of these HTTP methods.
	Methods []string
	// PathPatterns keeps operations whose path matches one of these regular
	// expressions.
	PathPatterns []string
	// IncludeOperations keeps only operations with these operation ids.
	IncludeOperations []string
	// ExcludeOperations drops operations with these operation ids.
	ExcludeOperations []string
}

type compiledFilter struct {
	includeTags map[string]struct{}
	excludeTags map[string]struct{}
	methods     map[string]struct{}
	pathRes     []*regexp.Regexp
	includeOps  map[string]struct{}
	excludeOps  map[string]struct{}
}

func set(values []string, fold bool) map[string]struct{} {
	var out map[string]struct{}
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if fold {
			v = strings.ToLower(v)
		}
		if out == nil {
			out = make(map[string]struct{}, len(values))
		}
		out[v] = struct{}{}
	}
	return out
}

func (f Filter) compile() (*compiledFilter, error) {
	c := &compiledFilter{
		includeTags: set(f.IncludeTags, false),
		excludeTags: set(f.ExcludeTags, false),
		methods:     set(f.Methods, true),
		includeOps:  set(f.IncludeOperations, false),
		excludeOps:  set(f.ExcludeOperations, false),
	}
	for _, p := range f.PathPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid path pattern %q: %w", p, err)
		}
		c.pathRes = append(c.pathRes, re)
	}
	return c, nil
}

func (c *compiledFilter) allow(op *schema.Operation) bool {
	if c.methods != nil {
		if _, ok := c.methods[strings.ToLower(op.Method)]; !ok {
			return false
		}
	}
	if len(c.pathRes) > 0 {
		matched := false
		for _, re := range c.pathRes {
			if re.MatchString(op.Path) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if c.includeOps != nil {
		if _, ok := c.includeOps[op.OperationID]; !ok {
			return false
		}
	}
	if _, blocked := c.excludeOps[op.OperationID]; blocked && op.OperationID != "" {
		return false
	}
	return c.allowTags(op.Tags)
}

func (c *compiledFilter) allowTags(tags []string) bool {
	if c.includeTags != nil {
		ok := false
		for _, t := range tags {
			if _, yes := c.includeTags[t]; yes {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for _, t := range tags {
		if _, blocked := c.excludeTags[t]; blocked {
			return false
		}
	}
	return true
}
