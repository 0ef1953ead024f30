// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package graphcompiler

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/ShaojieJiang/orcheo/pkg/orcheoerrors"
)

var configValidator = validator.New()

// DecodeConfig round-trips a node's config map into dst (a pointer to a
// struct carrying `validate` tags) and runs struct validation, the
// pydantic-equivalent step §4.5 requires node constructors to perform
// before trusting their config.
func DecodeConfig(config map[string]any, dst any) error {
	raw, err := json.Marshal(config)
	if err != nil {
		return orcheoerrors.NewScriptIngestionError("config is not JSON-representable: " + err.Error())
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return orcheoerrors.NewScriptIngestionError("config does not match expected shape: " + err.Error())
	}
	if err := configValidator.Struct(dst); err != nil {
		return orcheoerrors.NewScriptIngestionError(fmt.Sprintf("config validation failed: %s", err.Error()))
	}
	return nil
}
