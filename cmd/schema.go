package main

import (
	"fmt"
	"os"

	"github.com/JonathanMagnan/nmemory"
	"github.com/JonathanMagnan/nmemory/entity"
	"github.com/goccy/go-yaml"
)

type fieldConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	Nullable bool   `yaml:"nullable"`
	Identity bool   `yaml:"identity"`
}

type indexConfig struct {
	Name   string   `yaml:"name"`
	Unique bool     `yaml:"unique"`
	Fields []string `yaml:"fields"`
}

type tableConfig struct {
	Name    string        `yaml:"name"`
	Primary []string      `yaml:"primary"`
	Fields  []fieldConfig `yaml:"fields"`
	Indexes []indexConfig `yaml:"indexes"`
}

type relationConfig struct {
	Name           string   `yaml:"name"`
	Referring      string   `yaml:"referring"`
	Fields         []string `yaml:"fields"`
	Referred       string   `yaml:"referred"`
	ReferredFields []string `yaml:"referred_fields"`
}

type schemaConfig struct {
	Tables    []tableConfig    `yaml:"tables"`
	Relations []relationConfig `yaml:"relations"`
}

func loadSchema(path string) (*schemaConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg schemaConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func kindOf(s string) (entity.Kind, error) {
	switch s {
	case "int":
		return entity.Int, nil
	case "float":
		return entity.Float, nil
	case "string":
		return entity.String, nil
	case "bool":
		return entity.Bool, nil
	}
	return 0, fmt.Errorf("unknown field kind %q", s)
}

func buildDatabase(cfg *schemaConfig) (*nmemory.Database, error) {
	db := nmemory.NewDatabase()
	for _, tc := range cfg.Tables {
		fields := make([]entity.Field, 0, len(tc.Fields))
		for _, fc := range tc.Fields {
			kind, err := kindOf(fc.Kind)
			if err != nil {
				return nil, fmt.Errorf("table %s: %w", tc.Name, err)
			}
			fields = append(fields, entity.Field{
				Name:     fc.Name,
				Kind:     kind,
				Nullable: fc.Nullable,
				Identity: fc.Identity,
			})
		}
		schema, err := entity.NewSchema(tc.Name, fields...)
		if err != nil {
			return nil, err
		}
		table, err := db.CreateTable(schema, tc.Primary...)
		if err != nil {
			return nil, err
		}
		for _, ic := range tc.Indexes {
			if _, err := table.CreateIndex(ic.Name, ic.Unique, ic.Fields...); err != nil {
				return nil, err
			}
		}
	}
	for _, rc := range cfg.Relations {
		referring, err := db.Table(rc.Referring)
		if err != nil {
			return nil, err
		}
		referred, err := db.Table(rc.Referred)
		if err != nil {
			return nil, err
		}
		if _, err := db.CreateRelation(rc.Name, referring, rc.Fields, referred, rc.ReferredFields); err != nil {
			return nil, err
		}
	}
	return db, nil
}
