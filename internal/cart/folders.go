package cart

import (
	"context"
	"strings"

	"github.com/lotas/unicart/internal/applog"
	"github.com/lotas/unicart/internal/types"
)

// CreateFolder appends a folder. Names are case-sensitive and unique.
func (m *Model) CreateFolder(ctx context.Context, name, color string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return invalid("create folder", ErrEmptyName)
	}
	if m.state.HasFolder(name) {
		return invalid("create folder", ErrFolderExists)
	}
	if color == "" {
		color = types.DefaultFolderColor
	}
	m.state.Folders = append(m.state.Folders, types.Folder{Name: name, Color: color})
	applog.Info("folder.create", "name", name, "color", color)
	m.commit(ctx, "create-folder")
	return nil
}

// RenameFolder renames oldName and re-tags its items. The folder record and
// the items change together and are written in a single save, so no stored
// state ever has items pointing at the old name. An empty color keeps the
// current one.
func (m *Model) RenameFolder(ctx context.Context, oldName, newName, color string) error {
	const op = "rename folder"
	if oldName == types.Uncategorized {
		return invalid(op, ErrReservedFolder)
	}
	newName = strings.TrimSpace(newName)
	if newName == "" {
		return invalid(op, ErrEmptyName)
	}
	idx := m.folderIndex(oldName)
	if idx < 0 {
		return invalid(op, ErrUnknownFolder)
	}
	if newName != oldName && m.state.HasFolder(newName) {
		return invalid(op, ErrFolderExists)
	}

	f := &m.state.Folders[idx]
	f.Name = newName
	if color != "" {
		f.Color = color
	}
	moved := m.retag(oldName, newName)
	applog.Info("folder.rename", "from", oldName, "to", newName, "items", moved)
	m.commit(ctx, "rename-folder")
	return nil
}

// DeleteFolder removes name and moves its items to Uncategorized in the
// same save.
func (m *Model) DeleteFolder(ctx context.Context, name string) error {
	const op = "delete folder"
	if name == types.Uncategorized {
		return invalid(op, ErrReservedFolder)
	}
	idx := m.folderIndex(name)
	if idx < 0 {
		return invalid(op, ErrUnknownFolder)
	}

	m.state.Folders = append(m.state.Folders[:idx:idx], m.state.Folders[idx+1:]...)
	moved := m.retag(name, types.Uncategorized)
	applog.Info("folder.delete", "name", name, "items", moved)
	m.commit(ctx, "delete-folder")
	return nil
}

// FolderCounts returns the number of items per folder name.
func (m *Model) FolderCounts() map[string]int {
	counts := make(map[string]int, len(m.state.Folders))
	for _, it := range m.state.Items {
		counts[it.Folder]++
	}
	return counts
}

func (m *Model) folderIndex(name string) int {
	for i, f := range m.state.Folders {
		if f.Name == name {
			return i
		}
	}
	return -1
}

func (m *Model) retag(from, to string) int {
	n := 0
	for i := range m.state.Items {
		if m.state.Items[i].Folder == from {
			m.state.Items[i].Folder = to
			n++
		}
	}
	return n
}
