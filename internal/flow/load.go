package flow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type stepFile struct {
	Command     string `yaml:"command" json:"command"`
	Description string `yaml:"description" json:"description"`
	Wait        string `yaml:"wait" json:"wait"`
	Expect      string `yaml:"expect" json:"expect"`
	Repeat      int    `yaml:"repeat" json:"repeat"`
}

type gateFile struct {
	Token  string `yaml:"token" json:"token"`
	Prompt string `yaml:"prompt" json:"prompt"`
}

type flowFile struct {
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Confirm     *gateFile  `yaml:"confirm" json:"confirm"`
	Steps       []stepFile `yaml:"steps" json:"steps"`
}

// File is the structure of a flows file.
type File struct {
	Flows []flowFile `yaml:"flows" json:"flows"`
}

// LoadFile reads operator-defined flows from a YAML or JSON file, chosen by
// extension. A missing file yields an empty catalog.
func LoadFile(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Catalog{}, nil
		}
		return nil, fmt.Errorf("failed to read flows file: %w", err)
	}
	return Parse(data, strings.ToLower(filepath.Ext(path)) == ".json")
}

// Parse decodes a flows document. YAML is assumed unless asJSON is set.
func Parse(data []byte, asJSON bool) (Catalog, error) {
	var doc File
	if asJSON {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse flows json: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse flows yaml: %w", err)
		}
	}

	c := make(Catalog, len(doc.Flows))
	for _, ff := range doc.Flows {
		f, err := ff.flow()
		if err != nil {
			return nil, err
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c[f.Name]; dup {
			return nil, fmt.Errorf("flow %q defined twice", f.Name)
		}
		c[f.Name] = f
	}
	return c, nil
}

func (ff flowFile) flow() (Flow, error) {
	f := Flow{Name: ff.Name, Description: ff.Description}
	if ff.Confirm != nil {
		f.Gate = &Gate{Token: ff.Confirm.Token, Prompt: ff.Confirm.Prompt}
	}

	for i, sf := range ff.Steps {
		step := Step{Command: sf.Command, Description: sf.Description, Expect: sf.Expect}
		if sf.Wait != "" {
			d, err := time.ParseDuration(sf.Wait)
			if err != nil {
				return Flow{}, fmt.Errorf("flow %q step %d: invalid wait %q: %w", ff.Name, i+1, sf.Wait, err)
			}
			step.Wait = d
		}

		repeat := sf.Repeat
		if repeat < 1 {
			repeat = 1
		}
		for n := 0; n < repeat; n++ {
			f.Steps = append(f.Steps, step)
		}
	}
	return f, nil
}
