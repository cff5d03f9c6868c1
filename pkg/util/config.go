// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package util

import (
	"io"

	"github.com/BurntSushi/toml"
)

type StoreOptions struct {
	MaxBlocks int `tag:"maxBlocks" toml:"maxBlocks"`
}

type SchemaOptions struct {
	Widths string `tag:"widths" toml:"widths"`
}

type StressOptions struct {
	Workers         int    `tag:"workers" toml:"workers"`
	Blocks          int    `tag:"blocks" toml:"blocks"`
	TuplesPerWorker int    `tag:"tuplesPerWorker" toml:"tuplesPerWorker"`
	StartHint       string `tag:"startHint" toml:"startHint"`
}

type LogOptions struct {
	Level string `tag:"level" toml:"level"`
}

type Config struct {
	Store  StoreOptions  `tag:"store" toml:"store"`
	Schema SchemaOptions `tag:"schema" toml:"schema"`
	Stress StressOptions `tag:"stress" toml:"stress"`
	Log    LogOptions    `tag:"log" toml:"log"`
}

func DefaultConfig() Config {
	return Config{
		Store: StoreOptions{
			MaxBlocks: 64,
		},
		Schema: SchemaOptions{
			Widths: "8,4,1",
		},
		Stress: StressOptions{
			Workers:         8,
			Blocks:          4,
			TuplesPerWorker: 10000,
			StartHint:       "lowest",
		},
		Log: LogOptions{
			Level: "info",
		},
	}
}

// LoadConfig decodes a toml file on top of the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	_, err := toml.DecodeFile(path, &cfg)
	return cfg, err
}

func (cfg *Config) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(cfg)
}
