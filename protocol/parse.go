package protocol

import (
	"fmt"
	"strings"
)

// ParseBatchLine parses a batchable command line as written by rrdtool
// users, e.g. "UPDATE a.rrd 1700000000:1 1700000060:2". The verb is case
// insensitive. An update line carrying several values yields one Update per
// value, in order.
func ParseBatchLine(line string) ([]BatchCommand, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, &ParseError{Message: "empty command line"}
	}

	verb := Verb(strings.ToUpper(fields[0]))
	args := fields[1:]
	if len(args) == 0 {
		return nil, &ParseError{Message: fmt.Sprintf("%s requires a file name", verb), Line: line}
	}
	file := args[0]

	switch verb {
	case VerbUpdate:
		if len(args) < 2 {
			return nil, &ParseError{Message: "UPDATE requires at least one value", Line: line}
		}
		cmds := make([]BatchCommand, 0, len(args)-1)
		for _, value := range args[1:] {
			cmds = append(cmds, Update{File: file, Values: []string{value}})
		}
		return cmds, nil
	case VerbCreate:
		if len(args) < 2 {
			return nil, &ParseError{Message: "CREATE requires definitions", Line: line}
		}
		return []BatchCommand{Create{File: file, Defs: args[1:]}}, nil
	case VerbFlush:
		return []BatchCommand{Flush{File: file}}, nil
	case VerbWrote:
		return []BatchCommand{Wrote{File: file}}, nil
	case VerbForget:
		return []BatchCommand{Forget{File: file}}, nil
	default:
		return nil, &ParseError{Message: fmt.Sprintf("%s cannot be batched", verb), Line: line}
	}
}
