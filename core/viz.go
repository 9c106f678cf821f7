package core

// viz.go -- Graphviz DOT export of a conversation's DAG and ratchet state,
// for offline debugging (not part of the wire protocol or any invariant;
// purely a developer tool, ungated by any spec non-goal since it touches
// nothing on the critical path).

import (
	"fmt"
	"sort"
	"strings"
)

// DotOptions controls how much detail ExportDot includes.
type DotOptions struct {
	ShowSpeculative bool
	ShowRatchet     bool
	HighlightHeads  bool
}

// ExportDot renders a conversation's known nodes as a Graphviz DOT graph:
// one node per MerkleNode (labeled with its short hash and content kind),
// one edge per parent relationship. Heads are optionally highlighted so a
// reader can see at a glance where the DAG's current tips are.
func ExportDot(cid ConversationId, store Storage, opts DotOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph conversation_%s {\n", shortHex(cid[:]))
	b.WriteString("  rankdir=BT;\n  node [shape=box, fontname=monospace];\n")

	heads := make(map[Hash32]struct{})
	if opts.HighlightHeads {
		for _, h := range store.GetHeads(cid) {
			heads[h] = struct{}{}
		}
	}

	seen := make(map[Hash32]struct{})
	var walk func(h Hash32)
	walk = func(h Hash32) {
		if _, ok := seen[h]; ok {
			return
		}
		n, verified, err := store.GetNode(h)
		if err != nil || n == nil {
			return
		}
		if !verified && !opts.ShowSpeculative {
			return
		}
		seen[h] = struct{}{}

		style := "solid"
		if !verified {
			style = "dashed"
		}
		color := "black"
		if _, isHead := heads[h]; isHead {
			color = "forestgreen"
		}
		fmt.Fprintf(&b, "  %q [label=%q, style=%s, color=%s];\n",
			shortHex(h[:]), fmt.Sprintf("%s\\n%s", shortHex(h[:]), contentKindLabel(n.Content.Kind)), style, color)
		for _, p := range n.Parents {
			fmt.Fprintf(&b, "  %q -> %q;\n", shortHex(h[:]), shortHex(p[:]))
			walk(p)
		}
	}

	heads2 := append([]Hash32(nil), store.GetHeads(cid)...)
	heads2 = append(heads2, store.GetAdminHeads(cid)...)
	sort.Slice(heads2, func(i, j int) bool { return bytesGreater(heads2[j][:], heads2[i][:]) })
	for _, h := range heads2 {
		walk(h)
	}

	b.WriteString("}\n")
	return b.String()
}

// ExportRatchetDot renders a per-device chain key history as a linear
// chain of nodes, each labeled with its epoch and triggering node hash.
func ExportRatchetDot(cid ConversationId, device PhysicalDevicePk, store Storage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "digraph ratchet_%s_%s {\n", shortHex(cid[:]), shortHex(device[:]))
	b.WriteString("  rankdir=LR;\n  node [shape=ellipse, fontname=monospace];\n")

	keys := store.GetRatchetKeys(cid, device)
	sort.Slice(keys, func(i, j int) bool { return keys[i].Epoch < keys[j].Epoch })
	var prevLabel string
	for i, k := range keys {
		label := fmt.Sprintf("epoch %d\\n%s", k.Epoch, shortHex(k.TriggeringNode[:]))
		fmt.Fprintf(&b, "  k%d [label=%q];\n", i, label)
		if prevLabel != "" {
			fmt.Fprintf(&b, "  k%d -> k%d;\n", i-1, i)
		}
		prevLabel = label
	}
	b.WriteString("}\n")
	return b.String()
}

func contentKindLabel(k ContentKind) string {
	switch k {
	case ContentText:
		return "text"
	case ContentBlob:
		return "blob"
	case ContentReaction:
		return "reaction"
	case ContentRedaction:
		return "redaction"
	case ContentControl:
		return "control"
	case ContentKeyWrap:
		return "keywrap"
	case ContentRatchetSnapshot:
		return "ratchet-snapshot"
	default:
		return "unknown"
	}
}

func shortHex(b []byte) string {
	n := 6
	if len(b) < n {
		n = len(b)
	}
	return fmt.Sprintf("%x", b[:n])
}
