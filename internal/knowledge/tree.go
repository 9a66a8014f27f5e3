package knowledge

import (
	"sort"

	"github.com/google/uuid"
)

// PathSeparator joins folder names in a rendered path, e.g. "Client Projects / Alpha".
const PathSeparator = " / "

// BuildTree arranges folders into a forest sorted by name. counts holds the number
// of Integrated transcripts directly inside each folder. Folders whose parent is
// missing from the input are treated as roots.
func BuildTree(folders []Folder, counts map[uuid.UUID]int) []*FolderNode {
	nodes := make(map[uuid.UUID]*FolderNode, len(folders))
	for _, f := range folders {
		nodes[f.ID] = &FolderNode{Folder: f, Count: counts[f.ID], Children: []*FolderNode{}}
	}

	var roots []*FolderNode
	for _, f := range folders {
		n := nodes[f.ID]
		if f.ParentID != nil {
			if parent, ok := nodes[*f.ParentID]; ok {
				parent.Children = append(parent.Children, n)
				continue
			}
		}
		roots = append(roots, n)
	}

	var walk func(list []*FolderNode, prefix string)
	walk = func(list []*FolderNode, prefix string) {
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		for _, n := range list {
			n.Path = n.Name
			if prefix != "" {
				n.Path = prefix + PathSeparator + n.Name
			}
			walk(n.Children, n.Path)
		}
	}
	walk(roots, "")
	return roots
}

// Subtree returns id and the ids of all its descendants.
func Subtree(folders []Folder, id uuid.UUID) []uuid.UUID {
	children := make(map[uuid.UUID][]uuid.UUID)
	for _, f := range folders {
		if f.ParentID != nil {
			children[*f.ParentID] = append(children[*f.ParentID], f.ID)
		}
	}
	out := []uuid.UUID{id}
	for i := 0; i < len(out); i++ {
		out = append(out, children[out[i]]...)
	}
	return out
}
