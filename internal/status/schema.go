package status

import "bytes"

// Entry is one resolved position in a status schema. Every format byte
// gets exactly one entry, so the entry index doubles as the word offset
// into the status payload.
type Entry struct {
	Tag  byte
	Name string
	Rule Rule
	// Known is false for tags absent from the registry; their words
	// decode as opaque raw values.
	Known bool
	// Composite marks the high word of a 32-bit field whose low word is
	// the next entry.
	Composite bool
	// Consumed marks the low word of the preceding composite entry. The
	// decoder skips it.
	Consumed bool
}

// Schema is the resolved decoding plan for one inverter's status payload.
type Schema []Entry

// PayloadLen returns the expected status payload length in bytes.
func (s Schema) PayloadLen() int {
	return 2 * len(s)
}

// ThreePhase reports whether the schema carries per-phase grid fields.
func (s Schema) ThreePhase() bool {
	for _, e := range s {
		if e.Tag == tagSPhaseCurrent {
			return true
		}
	}
	return false
}

// Resolve interprets a status-format payload, a flat sequence of one-byte
// field tags, against the registry. 32-bit fields pair a high tag with
// the low tag that directly follows it; a high tag without its partner,
// or a low tag on its own, resolves as opaque. On three-phase formats the
// plain grid fields are renamed to their R-phase variants.
func Resolve(format []byte) Schema {
	threePhase := bytes.IndexByte(format, tagSPhaseCurrent) >= 0

	schema := make(Schema, 0, len(format))
	consumed := false
	for i, tag := range format {
		if consumed {
			schema = append(schema, Entry{Tag: tag, Consumed: true})
			consumed = false
			continue
		}

		rule, known := registry[tag]
		if !known {
			schema = append(schema, Entry{Tag: tag, Name: opaqueName(tag)})
			continue
		}

		if rule.PairTag != 0 {
			if i+1 < len(format) && format[i+1] == rule.PairTag {
				schema = append(schema, Entry{Tag: tag, Name: rule.Name, Rule: rule, Known: true, Composite: true})
				consumed = true
			} else {
				schema = append(schema, Entry{Tag: tag, Name: opaqueName(tag)})
			}
			continue
		}

		name := rule.Name
		if threePhase {
			if renamed, ok := rPhaseNames[name]; ok {
				name = renamed
			}
		}
		schema = append(schema, Entry{Tag: tag, Name: name, Rule: rule, Known: true})
	}
	return schema
}
