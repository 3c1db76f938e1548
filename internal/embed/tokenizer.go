package embed

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"

	nellieerrors "github.com/nellielabs/nellie/internal/errors"
)

const (
	tokenCLS  = "[CLS]"
	tokenSEP  = "[SEP]"
	tokenPAD  = "[PAD]"
	tokenUNK  = "[UNK]"
	wordPieceContinuation = "##"
)

// wordPieceTokenizer is a minimal WordPiece tokenizer loaded from a
// tokenizer.json vocabulary, sufficient to drive the three-tensor
// inference pipeline: lower-case, split on whitespace/punctuation,
// greedily match the longest known subword at each position, fall back to
// [UNK]. Truncates to MaxSequenceLength including the [CLS]/[SEP] frame.
type wordPieceTokenizer struct {
	vocab    map[string]int64
	clsID    int64
	sepID    int64
	padID    int64
	unkID    int64
}

// tokenizerVocabFile mirrors the subset of a HuggingFace tokenizer.json
// this loader needs: the flat token->id vocabulary under model.vocab.
type tokenizerVocabFile struct {
	Model struct {
		Vocab map[string]int64 `json:"vocab"`
	} `json:"model"`
}

func loadWordPieceTokenizer(path string) (*wordPieceTokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "failed to read tokenizer file "+path, err)
	}

	var file tokenizerVocabFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "failed to parse tokenizer file "+path, err)
	}
	if len(file.Model.Vocab) == 0 {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "tokenizer file "+path+" has no vocabulary", nil)
	}

	t := &wordPieceTokenizer{vocab: file.Model.Vocab}
	var ok bool
	if t.clsID, ok = t.vocab[tokenCLS]; !ok {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "tokenizer vocabulary missing "+tokenCLS, nil)
	}
	if t.sepID, ok = t.vocab[tokenSEP]; !ok {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "tokenizer vocabulary missing "+tokenSEP, nil)
	}
	if t.padID, ok = t.vocab[tokenPAD]; !ok {
		t.padID = 0
	}
	if t.unkID, ok = t.vocab[tokenUNK]; !ok {
		return nil, nellieerrors.New(nellieerrors.KindEmbeddingTokenization, "tokenizer vocabulary missing "+tokenUNK, nil)
	}

	return t, nil
}

// encode tokenizes text into an id sequence framed with [CLS]/[SEP] and
// truncated to MaxSequenceLength.
func (t *wordPieceTokenizer) encode(text string) []int64 {
	words := splitWords(text)

	ids := make([]int64, 0, len(words)+2)
	ids = append(ids, t.clsID)
	for _, w := range words {
		ids = append(ids, t.wordPieceIDs(w)...)
		if len(ids) >= MaxSequenceLength-1 {
			break
		}
	}
	if len(ids) > MaxSequenceLength-1 {
		ids = ids[:MaxSequenceLength-1]
	}
	ids = append(ids, t.sepID)
	return ids
}

// wordPieceIDs greedily matches the longest known subword starting at each
// position in w, prefixing continuation pieces with "##" as WordPiece
// requires. Falls back to a single [UNK] token if no prefix matches.
func (t *wordPieceTokenizer) wordPieceIDs(w string) []int64 {
	runes := []rune(strings.ToLower(w))
	var ids []int64
	start := 0
	for start < len(runes) {
		end := len(runes)
		matched := false
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = wordPieceContinuation + piece
			}
			if id, ok := t.vocab[piece]; ok {
				ids = append(ids, id)
				matched = true
				break
			}
			end--
		}
		if !matched {
			return []int64{t.unkID}
		}
		start = end
	}
	return ids
}

// splitWords performs basic whitespace/punctuation splitting, the BERT
// "basic tokenizer" step that precedes WordPiece.
func splitWords(text string) []string {
	var words []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			words = append(words, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return words
}

// buildBatchTensors pads a set of already-tokenized sequences to a common
// batch sequence length (capped at MaxSequenceLength) and returns the
// input_ids, attention_mask, and token_type_ids tensors the inference
// pipeline requires, flattened row-major [batch, seqLen].
func buildBatchTensors(sequences [][]int64, padID int64) (ids, mask, tokenTypes []int64, seqLen int) {
	longest := 0
	for _, s := range sequences {
		if len(s) > longest {
			longest = len(s)
		}
	}
	seqLen = longest
	if seqLen > MaxSequenceLength {
		seqLen = MaxSequenceLength
	}
	if seqLen == 0 {
		seqLen = 1
	}

	batch := len(sequences)
	ids = make([]int64, batch*seqLen)
	mask = make([]int64, batch*seqLen)
	tokenTypes = make([]int64, batch*seqLen)

	for b, seq := range sequences {
		for t := 0; t < seqLen; t++ {
			offset := b*seqLen + t
			if t < len(seq) {
				ids[offset] = seq[t]
				mask[offset] = 1
			} else {
				ids[offset] = padID
				mask[offset] = 0
			}
		}
	}
	return ids, mask, tokenTypes, seqLen
}
