package pipeline

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// partialMarker вставляется перед расширением временного файла.
// Расширение сохраняется, ffmpeg выбирает формат по нему.
const partialMarker = ".partial"

// Workspace — рабочий каталог с артефактами run.
//
// Раскладка: <root>/<run id>/<файлы шагов>. Манифест хранит пути
// относительно root.
type Workspace struct {
	root string
}

// NewWorkspace создаёт Workspace, при необходимости создавая каталог.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	return &Workspace{root: abs}, nil
}

// Root возвращает абсолютный путь корня.
func (w *Workspace) Root() string {
	return w.root
}

// Rel строит относительный путь внутри каталога run.
func (w *Workspace) Rel(runID uuid.UUID, elem ...string) string {
	return filepath.ToSlash(filepath.Join(append([]string{runID.String()}, elem...)...))
}

// Abs возвращает абсолютный путь по относительному.
func (w *Workspace) Abs(rel string) string {
	return filepath.Join(w.root, filepath.FromSlash(rel))
}

// RunDir возвращает абсолютный путь каталога run.
func (w *Workspace) RunDir(runID uuid.UUID) string {
	return filepath.Join(w.root, runID.String())
}

// Exists проверяет, что файл опубликован и не пуст.
func (w *Workspace) Exists(rel string) bool {
	st, err := os.Stat(w.Abs(rel))
	return err == nil && st.Mode().IsRegular() && st.Size() > 0
}

// TempPath возвращает временный путь для файла: scene-001.png → scene-001.partial.png.
func TempPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + partialMarker + ext
}

// IsPartial проверяет, что имя файла — временное.
func IsPartial(name string) bool {
	base := filepath.Base(name)
	return strings.Contains(base, partialMarker+".") || strings.HasSuffix(base, partialMarker)
}

// Produce создаёт файл rel атомарно: write пишет во временный путь,
// после проверки на пустоту файл переименовывается в итоговый.
// При ошибке временный файл удаляется, итоговый путь не появляется.
func (w *Workspace) Produce(rel string, write func(tmp string) error) error {
	if err := w.checkRel(rel); err != nil {
		return err
	}
	final := w.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp := TempPath(final)
	_ = os.Remove(tmp)

	if err := write(tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	st, err := os.Stat(tmp)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEmptyOutput, rel)
	}
	if st.Size() == 0 {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %s", ErrEmptyOutput, rel)
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("publish %s: %w", rel, err)
	}
	return nil
}

// WriteFile атомарно записывает данные.
func (w *Workspace) WriteFile(rel string, data []byte) error {
	return w.Produce(rel, func(tmp string) error {
		return os.WriteFile(tmp, data, 0o644)
	})
}

// ReadFile читает опубликованный файл.
func (w *Workspace) ReadFile(rel string) ([]byte, error) {
	return os.ReadFile(w.Abs(rel))
}

// Remove удаляет файл или каталог. Отсутствие не считается ошибкой.
func (w *Workspace) Remove(rel string) error {
	if err := w.checkRel(rel); err != nil {
		return err
	}
	if err := os.RemoveAll(w.Abs(rel)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Partial — найденный временный файл.
type Partial struct {
	Path    string
	RunID   uuid.UUID
	ModTime time.Time
}

// Partials возвращает временные файлы старше minAge.
// Файлы вне каталогов run пропускаются.
func (w *Workspace) Partials(minAge time.Duration) ([]Partial, error) {
	cutoff := time.Now().Add(-minAge)
	var found []Partial

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !IsPartial(d.Name()) {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
		runID, err := uuid.Parse(first)
		if err != nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().After(cutoff) {
			return nil
		}
		found = append(found, Partial{Path: path, RunID: runID, ModTime: info.ModTime()})
		return nil
	})
	return found, err
}

func (w *Workspace) checkRel(rel string) error {
	if rel == "" || filepath.IsAbs(rel) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	clean := filepath.Clean(filepath.FromSlash(rel))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %q", ErrInvalidPath, rel)
	}
	return nil
}
