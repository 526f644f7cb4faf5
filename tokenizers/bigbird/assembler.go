package bigbird

import (
	"fmt"

	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/api"
	"github.com/gomlx/go-bigbird-tokenizer/tokenizers/encoding"
	"github.com/pkg/errors"
)

// Assembler builds the model inputs from one or two sequences of ids: each sequence is terminated by
// the end-of-sequence marker, so a pair becomes "A </s> B </s>".
//
// A nil second sequence means a single-sequence input; an empty, non-nil one is a (empty) second sequence.
//
// All methods are pure functions of their inputs, except for the diagnostic emitted by EnsureEOS.
type Assembler struct {
	eosID    int
	eosToken string
	special  *api.SpecialTokenRegistry
	diag     api.Diagnostics
}

// Compile time assert that Assembler implements encoding.SpecialTokensBuilder.
var _ encoding.SpecialTokensBuilder = &Assembler{}

// NewAssembler creates an Assembler using the end-of-sequence token registered in special.
// If diag is nil, diagnostics go to api.KlogDiagnostics.
func NewAssembler(special *api.SpecialTokenRegistry, diag api.Diagnostics) (*Assembler, error) {
	eosID, err := special.ID(api.TokEndOfSentence)
	if err != nil {
		return nil, errors.WithMessage(err, "the assembler requires an end-of-sequence token")
	}
	eosToken, _ := special.Token(api.TokEndOfSentence)
	if diag == nil {
		diag = api.KlogDiagnostics{}
	}
	return &Assembler{eosID: eosID, eosToken: eosToken, special: special, diag: diag}, nil
}

// EOSID returns the end-of-sequence id.
func (a *Assembler) EOSID() int {
	return a.eosID
}

// endsWithEOS reports whether ids is already terminated by the end-of-sequence marker.
func (a *Assembler) endsWithEOS(ids []int) bool {
	return len(ids) > 0 && ids[len(ids)-1] == a.eosID
}

// EnsureEOS returns ids followed by the end-of-sequence id. ids itself is not modified.
//
// If ids already ends with it, ids is returned unchanged and a api.DiagEOSAlreadyPresent warning is
// emitted, once per call: later versions may append the marker anyway.
func (a *Assembler) EnsureEOS(ids []int) []int {
	if a.endsWithEOS(ids) {
		msg := fmt.Sprintf("this sequence already has %s: in future versions this behavior may lead to "+
			"duplicated eos tokens being added", a.eosToken)
		a.diag.Emit(api.Diagnostic{Severity: api.SeverityWarning, Code: api.DiagEOSAlreadyPresent, Message: msg})
		return ids
	}
	out := make([]int, len(ids), len(ids)+1)
	copy(out, ids)
	return append(out, a.eosID)
}

// BuildInputIDs returns "ids0 </s>" for a single sequence, or "ids0 </s> ids1 </s>" for a pair.
func (a *Assembler) BuildInputIDs(ids0, ids1 []int) []int {
	first := a.EnsureEOS(ids0)
	if ids1 == nil {
		return first
	}
	second := a.EnsureEOS(ids1)
	out := make([]int, 0, len(first)+len(second))
	out = append(out, first...)
	return append(out, second...)
}

// BuildOffsetMapping returns the spans with the sentinel span {0, 0} in the place of each
// end-of-sequence marker: "spans0 {0,0}" or "spans0 {0,0} spans1 {0,0}".
func (a *Assembler) BuildOffsetMapping(spans0, spans1 []api.TokenSpan) []api.TokenSpan {
	size := len(spans0) + 1
	if spans1 != nil {
		size += len(spans1) + 1
	}
	out := make([]api.TokenSpan, 0, size)
	out = append(out, spans0...)
	out = append(out, api.SentinelSpan)
	if spans1 == nil {
		return out
	}
	out = append(out, spans1...)
	return append(out, api.SentinelSpan)
}

// BuildTypeIDs returns all zeros (there is a single token type), as long as BuildInputIDs(ids0, ids1).
func (a *Assembler) BuildTypeIDs(ids0, ids1 []int) []int {
	length := len(ids0)
	if !a.endsWithEOS(ids0) {
		length++
	}
	if ids1 != nil {
		length += len(ids1)
		if !a.endsWithEOS(ids1) {
			length++
		}
	}
	return make([]int, length)
}

// BuildSpecialTokensMask returns 1 for the positions of special tokens and 0 for the others.
//
// If alreadyTagged, the sequences already contain their special tokens, and every id of a registered
// special token is marked. Otherwise the mask is built for the appended end-of-sequence markers:
// "0…0 1" or "0…0 1 0…0 1".
func (a *Assembler) BuildSpecialTokensMask(ids0, ids1 []int, alreadyTagged bool) []int {
	if alreadyTagged {
		return encoding.GenericSpecialTokensMask(ids0, ids1, a.special.AllIDs())
	}
	size := len(ids0) + 1
	if ids1 != nil {
		size += len(ids1) + 1
	}
	mask := make([]int, size)
	mask[len(ids0)] = 1
	if ids1 != nil {
		mask[size-1] = 1
	}
	return mask
}
