package classify

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/hashicorp/hcl/v2/hclsimple"
)

var ErrRulesFile = errors.New("invalid rules file")

// On-disk shape of a rule overlay file.
//
// Example:
//
//	rule "SiteProxyFailure" {
//	  pattern = "proxy CONNECT refused"
//	  domain  = "infrastructure"
//	}
type rulesFile struct {
	Rules []ruleBlock `hcl:"rule,block"`
}

type ruleBlock struct {
	Category string `hcl:"category,label"`
	Pattern  string `hcl:"pattern"`
	Domain   string `hcl:"domain,optional"`
}

// Loads operator-supplied classification rules from an HCL file.
//
// Returned rules preserve file order and are intended to be prepended to
// the built-in table via [NewWithRules]. The domain attribute accepts
// "infrastructure" or "build" and defaults to "build".
func LoadRules(path string) ([]Rule, error) {
	var file rulesFile
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRulesFile, err)
	}

	rules := make([]Rule, 0, len(file.Rules))
	for _, block := range file.Rules {
		pattern, err := regexp.Compile("(?i)" + block.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %q: %w", ErrRulesFile, block.Category, err)
		}

		domain := DomainBuild
		switch block.Domain {
		case "", "build":
		case "infrastructure":
			domain = DomainInfrastructure
		default:
			return nil, fmt.Errorf("%w: rule %q: unknown domain %q", ErrRulesFile, block.Category, block.Domain)
		}

		rules = append(rules, Rule{
			Category: Category(block.Category),
			Domain:   domain,
			Pattern:  pattern,
		})
	}

	return rules, nil
}
