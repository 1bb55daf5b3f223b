package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/rendis/stepflow/pkg/schema"
)

// Loader reads workflow definitions from YAML files in a directory. The
// logical workflow ID is the file name without extension unless the document
// sets an explicit id.
type Loader struct {
	dir string
}

// New creates a Loader rooted at dir.
func New(dir string) *Loader {
	return &Loader{dir: dir}
}

// Dir returns the loader's root directory.
func (l *Loader) Dir() string { return l.dir }

// Load parses a workflow definition from the given file path.
func (l *Loader) Load(path string) (*schema.WorkflowDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow file %q not found", path)
		}
		return nil, schema.NewErrorf(schema.ErrCodeParse, "read workflow file %q", path).WithCause(err)
	}
	return l.Parse(data, defaultID(path))
}

// Parse decodes YAML bytes into a definition, applying defaults.
func (l *Loader) Parse(data []byte, fallbackID string) (*schema.WorkflowDefinition, error) {
	var def schema.WorkflowDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "malformed workflow YAML: %s", err.Error()).WithCause(err)
	}
	if def.ID == "" {
		def.ID = fallbackID
	}
	if def.ExecutionMode == "" {
		def.ExecutionMode = schema.ModeAuto
	}
	return &def, nil
}

// ByID resolves a workflow by logical ID from the loader's directory, trying
// the .yaml extension first, then .yml.
func (l *Loader) ByID(id string) (*schema.WorkflowDefinition, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "invalid workflow id %q", id)
	}
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(l.dir, id+ext)
		if _, err := os.Stat(path); err == nil {
			return l.Load(path)
		}
	}
	return nil, schema.NewErrorf(schema.ErrCodeNotFound, "workflow %q not found in %s", id, l.dir)
}

// Info describes a discovered workflow file.
type Info struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Path        string `json:"path"`
}

// List discovers all workflow definitions in the loader's directory, sorted
// by ID. Files that fail to parse are skipped with a placeholder name so a
// single bad file does not hide the rest.
func (l *Loader) List() ([]Info, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodePersistence, "read workflow directory %q", l.dir).WithCause(err)
	}

	var infos []Info
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(l.dir, entry.Name())
		info := Info{ID: defaultID(path), Path: path}
		if def, err := l.Load(path); err == nil {
			if def.ID != "" {
				info.ID = def.ID
			}
			info.Name = def.Name
			info.Description = def.Description
		} else {
			info.Name = fmt.Sprintf("(unparseable: %s)", entry.Name())
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos, nil
}

func defaultID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
