package paramtree

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// NodeInfo is the per-leaf metadata record as retrieved in bulk from the
// server. `Properties` is a comma separated subset of
// "Read, Write, Stream, Setting, Pipelined". `Options` is only present for
// enumerated integer leaves and maps the integer value to its raw option
// string, e.g. `"off": Output disabled`.
type NodeInfo struct {
	Path        string           `json:"Node"`
	Description string           `json:"Description"`
	Properties  string           `json:"Properties"`
	Type        string           `json:"Type"`
	Unit        string           `json:"Unit"`
	Options     map[int64]string `json:"Options,omitempty"`
}

// DefaultNodeInfo is the metadata used for paths added without an explicit
// info record.
func DefaultNodeInfo(path string) NodeInfo {
	return NodeInfo{
		Path:        path,
		Description: "",
		Properties:  "Read, Write",
		Unit:        "None",
	}
}

func (self NodeInfo) hasProperty(property string) bool {
	for _, p := range strings.Split(self.Properties, ",") {
		if strings.EqualFold(strings.TrimSpace(p), property) {
			return true
		}
	}
	return false
}

func (self NodeInfo) Readable() bool {
	return self.hasProperty("Read")
}

func (self NodeInfo) Writable() bool {
	return self.hasProperty("Write")
}

func (self NodeInfo) IsSetting() bool {
	return self.hasProperty("Setting")
}

func (self NodeInfo) IsStreaming() bool {
	return self.hasProperty("Stream")
}

func (self NodeInfo) IsPipelined() bool {
	return self.hasProperty("Pipelined")
}

func (self NodeInfo) IsVector() bool {
	return strings.Contains(self.Type, "Vector")
}

func (self NodeInfo) String() string {
	out := self.Path
	out += "\n" + self.Description
	if self.Properties != "" {
		out += "\nProperties: " + self.Properties
	}
	if self.Type != "" {
		out += "\nType: " + self.Type
	}
	if self.Unit != "" {
		out += "\nUnit: " + self.Unit
	}
	if 0 < len(self.Options) {
		out += "\nOptions:"
		values := maps.Keys(self.Options)
		slices.Sort(values)
		for _, value := range values {
			out += fmt.Sprintf("\n    %d: %s", value, self.Options[value])
		}
	}
	return out
}

// OptionInfo is one parsed entry of the option table of an enumerated
// integer leaf.
type OptionInfo struct {
	Keyword     string
	Description string
}

var optionKeywordRe = regexp.MustCompile(`"(?P<keyword>[a-zA-Z0-9-_]+)"`)
var optionDescriptionRe = regexp.MustCompile(`: (.*)`)

// parseOption splits a raw option string into its keywords and description.
// Two formats exist: a plain keyword like `Alive`, and one or more quoted
// keywords optionally followed by a colon and a description, like
// `"sigin0", "signal_input0": Sig In 1`.
func parseOption(optionString string) ([]string, string) {
	matches := optionKeywordRe.FindAllStringSubmatch(optionString, -1)
	keywords := []string{}
	if len(matches) == 0 {
		keywords = append(keywords, optionString)
	} else {
		for _, m := range matches {
			keywords = append(keywords, m[1])
		}
	}

	description := ""
	if m := optionDescriptionRe.FindStringSubmatch(optionString); m != nil {
		description = m[1]
	}
	return keywords, description
}

// OptionTable parses the raw option strings into an ordered table.
// Only the first keyword of each option becomes the enum keyword.
// Returns nil for non-enumerated leaves.
func (self NodeInfo) OptionTable() map[int64]OptionInfo {
	if len(self.Options) == 0 {
		return nil
	}
	table := make(map[int64]OptionInfo, len(self.Options))
	for value, optionString := range self.Options {
		keywords, description := parseOption(optionString)
		table[value] = OptionInfo{
			Keyword:     keywords[0],
			Description: description,
		}
	}
	return table
}
