// Copyright 2025 Poiesic Systems
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

// Package query answers natural-language questions from indexed documents.
//
// The Coordinator runs a fixed sequence of stages for every question:
//   - embed the question
//   - search the vector store within the caller's department
//   - assemble a bounded context from the best matches
//   - build a grounded or general-knowledge prompt
//   - generate an answer exactly once
//   - log the exchange to query history
//
// Only a failed question embedding is returned as an error. A vector store
// outage degrades to answering without context, and a generation failure is
// reported in the answer text. History is written in every case.
package query
