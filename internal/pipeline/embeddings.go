package pipeline

import (
	"log/slog"
	"strings"

	"github.com/badgergraph/codegraph/internal/embed"
	"github.com/badgergraph/codegraph/internal/store"
)

// embeddableLabels are the node kinds semantic_code_search indexes.
var embeddableLabels = []string{"Function", "Method", "Class", "Struct"}

// passEmbeddings computes and stores a semantic embedding for every
// embeddable node, built from its qualified name plus docstring when
// present. Encoding failures for a single node are logged and skipped;
// they never abort the pass.
func (p *Pipeline) passEmbeddings() {
	if p.encoder == nil {
		return
	}
	for _, label := range embeddableLabels {
		nodes, err := p.Store.FindNodesByLabel(p.ProjectName, label)
		if err != nil {
			slog.Warn("pass.embeddings.find_nodes.err", "label", label, "err", err)
			continue
		}
		for _, n := range nodes {
			if err := p.checkCancel(); err != nil {
				return
			}
			text := embeddingText(n)
			if text == "" {
				continue
			}
			vec, err := p.encoder.Encode(p.ctx, text)
			if err != nil {
				slog.Warn("pass.embeddings.encode.err", "node", n.QualifiedName, "err", err)
				continue
			}
			if err := p.Store.WriteEmbedding(n.ID, embed.EncodeVector(vec)); err != nil {
				slog.Warn("pass.embeddings.write.err", "node", n.QualifiedName, "err", err)
			}
		}
	}
}

// embeddingText builds the text fed to the encoder: the qualified name,
// followed by the docstring when the node carries one.
func embeddingText(n *store.Node) string {
	parts := []string{n.QualifiedName}
	if doc, ok := n.Properties["docstring"].(string); ok && doc != "" {
		parts = append(parts, doc)
	}
	return strings.Join(parts, "\n")
}
