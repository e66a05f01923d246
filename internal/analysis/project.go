package analysis

import (
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"

	amerrors "github.com/Aman-CERP/amanctx/internal/errors"
	"github.com/Aman-CERP/amanctx/internal/ports"
)

// marker maps a file at the project root onto a project type.
type marker struct {
	file      string
	projType  string
	languages []string
	// name extracts the project name from the marker, "" if absent.
	name func(path string) string
}

// markers are checked in order; the first one that yields a name names the
// project.
var markers = []marker{
	{file: "go.mod", projType: "go", languages: []string{"go"}, name: goModuleName},
	{file: "Cargo.toml", projType: "rust", languages: []string{"rust"}, name: cargoName},
	{file: "package.json", projType: "node", languages: []string{"javascript"}, name: packageJSONName},
	{file: "tsconfig.json", projType: "typescript", languages: []string{"typescript"}},
	{file: "pyproject.toml", projType: "python", languages: []string{"python"}, name: pyprojectName},
	{file: "setup.py", projType: "python", languages: []string{"python"}},
	{file: "requirements.txt", projType: "python", languages: []string{"python"}},
	{file: "pom.xml", projType: "maven", languages: []string{"java"}},
	{file: "build.gradle", projType: "gradle", languages: []string{"java"}},
	{file: "build.gradle.kts", projType: "gradle", languages: []string{"java"}},
	{file: "Gemfile", projType: "ruby", languages: []string{"ruby"}},
	{file: "CMakeLists.txt", projType: "cmake", languages: []string{"c", "cpp"}},
}

// Markers detects projects from well-known build files in the root.
type Markers struct{}

var _ ports.ProjectDetector = Markers{}

// NewMarkers returns the marker-file detector.
func NewMarkers() Markers { return Markers{} }

// Detect inspects root. Roots without markers report no types and are named
// after their directory.
func (Markers) Detect(ctx context.Context, root string) (ports.ProjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ports.ProjectInfo{}, amerrors.Cancelled("project detection cancelled", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return ports.ProjectInfo{}, amerrors.InvalidArgument("resolve %s: %v", root, err)
	}
	st, err := os.Stat(abs)
	if err != nil {
		return ports.ProjectInfo{}, amerrors.NotFound("project root %s", abs)
	}
	if !st.IsDir() {
		return ports.ProjectInfo{}, amerrors.InvalidArgument("project root %s is not a directory", abs)
	}

	info := ports.ProjectInfo{Root: abs, Types: []string{}}
	seenType := map[string]bool{}
	seenLang := map[string]bool{}
	for _, m := range markers {
		p := filepath.Join(abs, m.file)
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if !seenType[m.projType] {
			seenType[m.projType] = true
			info.Types = append(info.Types, m.projType)
		}
		for _, l := range m.languages {
			if !seenLang[l] {
				seenLang[l] = true
				info.Languages = append(info.Languages, l)
			}
		}
		if info.Name == "" && m.name != nil {
			info.Name = m.name(p)
		}
	}
	if info.Name == "" {
		info.Name = filepath.Base(abs)
	}
	return info, nil
}

// goModuleName returns the last element of the module path.
func goModuleName(file string) string {
	data, err := os.ReadFile(file)
	if err != nil {
		return ""
	}
	mod := modfile.ModulePath(data)
	if mod == "" {
		return ""
	}
	return path.Base(mod)
}

func packageJSONName(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var pkg struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(data, &pkg) != nil {
		return ""
	}
	// @scope/name -> name
	if i := strings.LastIndex(pkg.Name, "/"); i >= 0 && strings.HasPrefix(pkg.Name, "@") {
		return pkg.Name[i+1:]
	}
	return pkg.Name
}

func cargoName(path string) string {
	var doc struct {
		Package struct {
			Name string `toml:"name"`
		} `toml:"package"`
	}
	if decodeTOML(path, &doc) != nil {
		return ""
	}
	return doc.Package.Name
}

func pyprojectName(path string) string {
	var doc struct {
		Project struct {
			Name string `toml:"name"`
		} `toml:"project"`
		Tool struct {
			Poetry struct {
				Name string `toml:"name"`
			} `toml:"poetry"`
		} `toml:"tool"`
	}
	if decodeTOML(path, &doc) != nil {
		return ""
	}
	if doc.Project.Name != "" {
		return doc.Project.Name
	}
	return doc.Tool.Poetry.Name
}

func decodeTOML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return toml.Unmarshal(data, v)
}
