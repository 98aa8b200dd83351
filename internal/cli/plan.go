package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan — план ролика в файле plan.yaml.
// JSON тоже принимается: это подмножество YAML.
type Plan struct {
	Title      string  `yaml:"title,omitempty" json:"title,omitempty"`
	Voice      string  `yaml:"voice,omitempty" json:"voice,omitempty"`
	MusicTrack string  `yaml:"music_track,omitempty" json:"music_track,omitempty"`
	Scenes     []Scene `yaml:"scenes" json:"scenes"`
}

// Scene — сцена плана.
type Scene struct {
	Narration   string  `yaml:"narration" json:"narration"`
	Visual      string  `yaml:"visual" json:"visual"`
	Motion      string  `yaml:"motion,omitempty" json:"motion,omitempty"`
	Transition  string  `yaml:"transition,omitempty" json:"transition,omitempty"`
	DurationSec float64 `yaml:"duration_sec" json:"duration_sec"`
}

// LoadPlan читает план из файла. Путь "-" — stdin.
func LoadPlan(path string) (Plan, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return Plan{}, fmt.Errorf("read plan: %w", err)
	}
	return ParsePlan(data)
}

// ParsePlan разбирает план. Неизвестные поля — ошибка, чтобы опечатка
// в имени поля не превращалась в пустое значение.
// Полная валидация выполняется сервером.
func ParsePlan(data []byte) (Plan, error) {
	var plan Plan
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return Plan{}, fmt.Errorf("parse plan: empty document")
		}
		return Plan{}, fmt.Errorf("parse plan: %w", err)
	}
	if len(plan.Scenes) == 0 {
		return Plan{}, fmt.Errorf("parse plan: no scenes")
	}
	for i := range plan.Scenes {
		plan.Scenes[i].Narration = strings.TrimSpace(plan.Scenes[i].Narration)
		plan.Scenes[i].Visual = strings.TrimSpace(plan.Scenes[i].Visual)
	}
	return plan, nil
}

// TotalSeconds возвращает суммарную длительность сцен.
func (p Plan) TotalSeconds() float64 {
	var total float64
	for _, s := range p.Scenes {
		total += s.DurationSec
	}
	return total
}
