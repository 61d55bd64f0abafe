// Copyright 2025 ResumeHub
// SPDX-License-Identifier: Apache-2.0
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package usage provides daily usage metering and entitlement resolution for
ResumeHub.

# Overview

Every resume generation consumes one unit of a per-identity daily quota. The
package has three layers:

  - Ledger: per-identity-per-day counters with a race-free atomic increment
    (PostgresLedger in production, MemoryLedger for tests and DB-less runs)
  - Limits: the pure entitlement resolver mapping an identity and its
    subscription state to a daily limit (anonymous 3, free 5, premium 50)
  - Gate: the orchestrating service answering "can this identity generate?"
    and recording completed generations

# Checking and recording usage

	gate := usage.NewGate(usage.NewPostgresLedger(db), subscriptionStore)

	status, err := gate.CheckUsage(ctx, id)
	if err != nil { ... }            // infrastructure failure, NOT quota
	if !status.CanGenerate { ... }   // limit reached, tell the caller

	// ... run the generation; only if it succeeded:
	newCount, err := gate.RecordGeneration(ctx, id)

The check is a pure idempotent read. The increment is a single upsert
statement, so two simultaneous generations for the same identity are both
counted (no lost updates). The check and the increment are intentionally not
atomic as a pair: the daily limit is a soft cap that concurrent in-flight
requests may transiently overshoot. Ledger.IncrementIfBelow exists for
callers that need a hard cap instead.

# Identity keying

Registered accounts key by account email (account id denormalized alongside).
Anonymous callers share one bucket per day by default; set the resolver to
token mode to key them by a client-supplied stable token instead.

# Day boundaries

Days are UTC calendar dates. A counter for day D never affects day D+1.

# Error handling

Expected outcomes (limit reached) are data, not errors. ErrLedgerUnavailable
marks storage failures and must never be presented as quota exhaustion.
*/
package usage
