package paramtree

import (
	"strings"
	"sync"
)

// Parser post-processes every annotated value on its way out of the session,
// before it reaches a caller or a subscription queue.
type Parser func(AnnotatedValue) AnnotatedValue

// IdentityParser passes values through unchanged.
func IdentityParser(value AnnotatedValue) AnnotatedValue {
	return value
}

// ChainParsers composes parsers left to right. Nil entries are skipped.
func ChainParsers(parsers ...Parser) Parser {
	return func(value AnnotatedValue) AnnotatedValue {
		for _, parser := range parsers {
			if parser != nil {
				value = parser(value)
			}
		}
		return value
	}
}

// EnumValue is an enumerated integer wrapped with its declared keyword.
// It stays comparable to its plain integer value via `Value`.
type EnumValue struct {
	Value int64
	Name  string
}

func (self EnumValue) Int() int64 {
	return self.Value
}

func (self EnumValue) String() string {
	return self.Name
}

// NewEnumParser returns the enumerated-option parser stage for a metadata
// table. Integer values of paths with a declared option table are wrapped
// into EnumValue. Undeclared integers, non-integer values and paths missing
// from the table pass through unchanged. A push value may legitimately
// arrive for a path outside the bulk metadata snapshot, so a missing path is
// never an error.
//
// The per-path option lookup is parsed once and memoized.
func NewEnumParser(pathToInfo map[string]NodeInfo) Parser {
	var stateLock sync.Mutex
	optionCache := map[string]map[int64]OptionInfo{}

	optionsForPath := func(path string) map[int64]OptionInfo {
		stateLock.Lock()
		defer stateLock.Unlock()

		table, ok := optionCache[path]
		if !ok {
			if info, ok := pathToInfo[path]; ok {
				table = info.OptionTable()
			}
			optionCache[path] = table
		}
		return table
	}

	return func(value AnnotatedValue) AnnotatedValue {
		if _, alreadyParsed := value.Value.(EnumValue); alreadyParsed {
			return value
		}
		intValue, ok := asInt64(value.Value)
		if !ok {
			return value
		}
		// the metadata table is keyed lower case
		table := optionsForPath(strings.ToLower(value.Path))
		if table == nil {
			return value
		}
		option, ok := table[intValue]
		if !ok {
			// undeclared integer, pass through
			return value
		}
		value.Value = EnumValue{
			Value: intValue,
			Name:  option.Keyword,
		}
		return value
	}
}
