// Command flowctl is a thin batch-mode CLI over the core library: it reads
// a patch document, runs the Validator and (if valid) the Overlay
// evaluator, Stage Decision Computer and Params resolver, and prints one of
// the tool JSON envelopes. All business logic lives in pkg/*;
// this file only wires flags to library calls.
package main

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"

	"github.com/flowforge/core/internal/config"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/explain"
	"github.com/flowforge/core/pkg/flowtypes"
	"github.com/flowforge/core/pkg/overlay"
	"github.com/flowforge/core/pkg/paramsresolver"
	"github.com/flowforge/core/pkg/patchio"
	"github.com/flowforge/core/pkg/stagedecision"
	"github.com/flowforge/core/pkg/validator"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func defaultConfigPath() string {
	if expanded, err := homedir.Expand("~/.flowctl/config.yaml"); err == nil {
		return expanded
	}
	return filepath.Join(".", "flowctl.yaml")
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	flags := pflag.NewFlagSet("flowctl", pflag.ContinueOnError)
	configPath := flags.String("config", defaultConfigPath(), "path to the flowctl tool config file")
	patchPath := flags.String("file", "", "path to a patch document (YAML or JSON); defaults to stdin")
	flowName := flags.String("flow", "", "flow name to explain (required for explain*/preview_matrix/exec_explain)")
	userID := flags.String("user", "", "request user id, consulted for shadow sampling")
	qosTier := flags.String("qos", string(flowtypes.QoSFull), "request QoS tier")
	variants := flags.StringToString("variant", nil, "experiment layer=variant assignments, repeatable")
	configVersion := flags.Uint64("config-version", 1, "config version to report in the output envelope")
	beforeFile := flags.String("before", "", "for kind=diff, the 'before' canonical JSON document")
	afterFile := flags.String("after", "", "for kind=diff, the 'after' canonical JSON document")
	nodeName := flags.String("node", "", "module id to look up, for kind=exec_explain")
	jqFilter := flags.String("jq", "", "optional jq expression to post-filter the output envelope")
	prettyFlag := flags.Bool("pretty", false, "pretty-print/colorize output instead of plain indented JSON")

	if err := flags.Parse(args); err != nil {
		return 2
	}
	ropts := renderOptions{jqFilter: *jqFilter, pretty: *prettyFlag}

	kind := explain.KindValidate
	if positional := flags.Args(); len(positional) > 0 {
		kind = positional[0]
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return emitError(stdout, ropts, explain.InternalError("FLOWCTL_CONFIG", err.Error()))
	}

	if kind == explain.KindDiff {
		return runDiff(stdout, ropts, *beforeFile, *afterFile)
	}

	bp, err := loadBlueprint(context.Background(), cfg)
	if err != nil {
		return emitError(stdout, ropts, explain.InternalError("FLOWCTL_BLUEPRINT", err.Error()))
	}

	rawPatch, err := readPatch(*patchPath, stdin)
	if err != nil {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_PATCH_READ", err.Error()))
	}
	patchJSON, err := patchio.Load(rawPatch)
	if err != nil {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_PATCH_PARSE", err.Error()))
	}

	report := validator.Validate(patchJSON, bp)
	validateEnv := explain.BuildValidate(report)
	if kind == explain.KindValidate {
		emitJSON(stdout, ropts, validateEnv)
		return validateEnv.ExitCode()
	}
	if !validateEnv.IsValid {
		emitJSON(stdout, ropts, validateEnv)
		return 2
	}

	patch, err := flowtypes.Bind(patchJSON)
	if err != nil {
		return emitError(stdout, ropts, explain.InternalError("FLOWCTL_BIND", "validator accepted a patch that failed to bind: "+err.Error()))
	}
	if *flowName == "" {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_FLOW_REQUIRED", "--flow is required for kind="+kind))
	}
	def := bp.Registry.Lookup(*flowName)
	if def == nil {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_FLOW_UNKNOWN", "unregistered flow: "+*flowName))
	}

	opts := &flowtypes.RequestOptions{UserID: *userID, Variants: *variants}
	tier := flowtypes.QoSTier(*qosTier)

	switch kind {
	case explain.KindExplain, explain.KindExplainPatch, explain.KindExplainPatchRich:
		eval := overlay.Evaluate(overlay.Input{
			FlowName: *flowName, ConfigVersion: *configVersion, Patch: patch,
			Options: opts, QoSTier: tier, Now: time.Now(),
		})
		decisions := decideStages(eval, opts, bp.Selectors, def)

		paramsIn, err := buildParamsInput(def, eval, tier)
		if err != nil {
			return emitError(stdout, ropts, explain.InternalError("FLOWCTL_PARAMS", err.Error()))
		}
		result, err := paramsresolver.Resolve(paramsIn)
		if err != nil {
			return emitError(stdout, ropts, explain.InternalError("FLOWCTL_PARAMS", err.Error()))
		}

		emitJSON(stdout, ropts, explain.BuildExplain(kind, eval, decisions, result))
		return 0

	case explain.KindPreviewMatrix:
		env, err := buildPreviewMatrix(*flowName, *configVersion, patch, opts, bp, def)
		if err != nil {
			return emitError(stdout, ropts, explain.InternalError("FLOWCTL_PREVIEW", err.Error()))
		}
		emitJSON(stdout, ropts, env)
		return 0

	case explain.KindExecExplain:
		if *nodeName == "" {
			return emitError(stdout, ropts, explain.InputError("FLOWCTL_NODE_REQUIRED", "--node is required for kind="+kind))
		}
		eval := overlay.Evaluate(overlay.Input{
			FlowName: *flowName, ConfigVersion: *configVersion, Patch: patch,
			Options: opts, QoSTier: tier, Now: time.Now(),
		})
		decisions := decideStages(eval, opts, bp.Selectors, def)
		env, found := buildExecExplain(*flowName, *nodeName, decisions)
		if !found {
			return emitError(stdout, ropts, explain.InputError("FLOWCTL_NODE_UNKNOWN", "module id not found in any stage decision: "+*nodeName))
		}
		emitJSON(stdout, ropts, env)
		return 0

	default:
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_UNKNOWN_KIND", "unrecognized command "+kind))
	}
}

func decideStages(eval *overlay.FlowPatchEvaluation, opts *flowtypes.RequestOptions, selectors *contract.SelectorRegistry, def *contract.FlowDefinition) []*stagedecision.StageDecision {
	decisions := make([]*stagedecision.StageDecision, 0, len(eval.Stages))
	for _, stage := range eval.Stages {
		decisions = append(decisions, stagedecision.Decide(stage, stagedecision.Input{
			Options: opts, Selectors: selectors, Contract: def.StageContracts[stage.StageName],
		}))
	}
	return decisions
}

// buildPreviewMatrix runs explain's evaluation/decision/resolve pipeline for
// every declared QoS tier, producing one matrix cell per tier.
func buildPreviewMatrix(flowName string, configVersion uint64, patch *flowtypes.PatchDocument, opts *flowtypes.RequestOptions, bp validator.Blueprint, def *contract.FlowDefinition) (*explain.PreviewMatrixEnvelope, error) {
	cells := make([]explain.PreviewCell, 0, len(flowtypes.ValidQoSTiers))
	for _, tier := range flowtypes.ValidQoSTiers {
		eval := overlay.Evaluate(overlay.Input{
			FlowName: flowName, ConfigVersion: configVersion, Patch: patch,
			Options: opts, QoSTier: tier, Now: time.Now(),
		})
		decisions := decideStages(eval, opts, bp.Selectors, def)

		paramsIn, err := buildParamsInput(def, eval, tier)
		if err != nil {
			return nil, err
		}
		result, err := paramsresolver.Resolve(paramsIn)
		if err != nil {
			return nil, err
		}

		stages := make([]explain.StageRecord, 0, len(decisions))
		for _, d := range decisions {
			stages = append(stages, explain.StageRecord{
				StageName: d.StageName, FanoutEffective: d.FanoutEffective,
				Modules: moduleRecords(d.Modules), ShadowModules: moduleRecords(d.ShadowModules),
			})
		}

		cells = append(cells, explain.PreviewCell{
			QoSTier: string(tier), Variants: opts.Variants, Stages: stages, ParamsHash: explain.X16(result.Hash),
		})
	}
	return explain.BuildPreviewMatrix(flowName, cells), nil
}

// buildExecExplain locates nodeName among a flow's stage decisions (primary
// or shadow modules) and reports its recorded outcome plus the stage record
// it belongs to. Returns found=false if no stage decided on that module id.
func buildExecExplain(flowName, nodeName string, decisions []*stagedecision.StageDecision) (*explain.ExecExplainEnvelope, bool) {
	for _, d := range decisions {
		for _, group := range [][]stagedecision.ModuleDecision{d.Modules, d.ShadowModules} {
			for _, m := range group {
				if m.ModuleID != nodeName {
					continue
				}
				lookup := &explain.StageDecisionLookup{
					StageName: d.StageName, FanoutEffective: d.FanoutEffective,
					Modules: moduleRecords(d.Modules), ShadowModules: moduleRecords(d.ShadowModules),
				}
				return explain.BuildExecExplain(flowName, nodeName, m.Outcome, lookup), true
			}
		}
	}
	return nil, false
}

func moduleRecords(decisions []stagedecision.ModuleDecision) []explain.ModuleDecisionRecord {
	out := make([]explain.ModuleDecisionRecord, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, explain.ModuleDecisionRecord{
			ModuleID: d.ModuleID, Outcome: d.Outcome, GateCode: d.GateCode,
			GateReason: d.GateReason, SelectorName: d.SelectorName,
		})
	}
	return out
}

func readPatch(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func emitJSON(w io.Writer, ropts renderOptions, v any) {
	raw, err := renderEnvelope(v, ropts)
	if err != nil {
		// renderEnvelope only fails on a bad --jq filter or a marshal bug;
		// fall back to the unfiltered envelope rather than print nothing.
		raw, _ = renderEnvelope(v, renderOptions{})
	}
	w.Write(raw)
	w.Write([]byte("\n"))
}

func emitError(w io.Writer, ropts renderOptions, env *explain.ErrorEnvelope) int {
	emitJSON(w, ropts, env)
	if strings.HasSuffix(env.Error.Code, "_INTERNAL_ERROR") {
		return 1
	}
	return 2
}

func runDiff(stdout io.Writer, ropts renderOptions, beforeFile, afterFile string) int {
	if beforeFile == "" || afterFile == "" {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_DIFF_ARGS", "kind=diff requires --before and --after"))
	}
	before, err := os.ReadFile(beforeFile)
	if err != nil {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_DIFF_READ", err.Error()))
	}
	after, err := os.ReadFile(afterFile)
	if err != nil {
		return emitError(stdout, ropts, explain.InputError("FLOWCTL_DIFF_READ", err.Error()))
	}
	env, err := explain.BuildDiff(before, after)
	if err != nil {
		return emitError(stdout, ropts, explain.InternalError("FLOWCTL_DIFF", err.Error()))
	}
	emitJSON(stdout, ropts, env)
	return 0
}
