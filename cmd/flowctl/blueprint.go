package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/flowforge/core/internal/config"
	"github.com/flowforge/core/pkg/contract"
	"github.com/flowforge/core/pkg/contract/celselector"
	"github.com/flowforge/core/pkg/contract/regoselector"
	"github.com/flowforge/core/pkg/validator"
)

// registryFile, catalogFile and selectorsFile are the on-disk DTO shapes a
// deployment's blueprint bundle is authored in; loadBlueprint binds each
// into the corresponding pkg/contract type via its constructor, since those
// types are otherwise meant to be built once by host Go code rather than
// generically decoded (they hold compiled globs, tries and schemas, not
// plain data).
type registryFile struct {
	Flows map[string]struct {
		StageNames    []string                  `json:"stageNames"`
		NodeNames     []string                  `json:"nodeNames"`
		DefaultParams json.RawMessage           `json:"defaultParams"`
		Stages        map[string]stageContractDTO `json:"stages"`
		Ownership     ownershipDTO              `json:"ownership"`
	} `json:"flows"`
}

type stageContractDTO struct {
	AllowsDynamicModules bool     `json:"allowsDynamicModules"`
	AllowsShadowModules  bool     `json:"allowsShadowModules"`
	AllowedModuleTypes   []string `json:"allowedModuleTypes"`
	MaxModulesWarn       int      `json:"maxModulesWarn"`
	MaxModulesHard       int      `json:"maxModulesHard"`
	MaxShadowModulesHard int      `json:"maxShadowModulesHard"`
	MaxShadowSampleBps   int      `json:"maxShadowSampleBps"`
	MinFanoutMax         int      `json:"minFanoutMax"`
	MaxFanoutMax         int      `json:"maxFanoutMax"`
}

type ownershipDTO struct {
	Layers map[string]struct {
		ParamPathPrefixes []string `json:"paramPathPrefixes"`
		OwnedModuleIDs    []string `json:"ownedModuleIds"`
	} `json:"layers"`
}

type catalogFile struct {
	Modules map[string]struct {
		ArgsSchema     json.RawMessage `json:"argsSchema"`
		OutputTypeName string          `json:"outputTypeName"`
		AllowsUnmapped bool            `json:"allowsUnmapped"`
	} `json:"modules"`
}

type selectorsFile struct {
	CEL  map[string]string `json:"cel"`
	Rego map[string]string `json:"rego"`
}

func loadBlueprint(ctx context.Context, cfg *config.Config) (validator.Blueprint, error) {
	registry, err := loadRegistry(cfg.Blueprint.RegistryPath)
	if err != nil {
		return validator.Blueprint{}, fmt.Errorf("loading registry: %w", err)
	}
	catalog, err := loadCatalog(cfg.Blueprint.CatalogPath)
	if err != nil {
		return validator.Blueprint{}, fmt.Errorf("loading module catalog: %w", err)
	}
	selectors, err := loadSelectors(ctx, cfg.Blueprint.SelectorsPath)
	if err != nil {
		return validator.Blueprint{}, fmt.Errorf("loading selectors: %w", err)
	}
	return validator.Blueprint{Registry: registry, Catalog: catalog, Selectors: selectors}, nil
}

func loadRegistry(path string) (*contract.FlowRegistry, error) {
	if path == "" {
		return contract.NewFlowRegistry(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc registryFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	flows := make(map[string]*contract.FlowDefinition, len(doc.Flows))
	for name, f := range doc.Flows {
		stageContracts := make(map[string]*contract.StageContract, len(f.Stages))
		for stageName, sc := range f.Stages {
			stageContracts[stageName] = &contract.StageContract{
				AllowsDynamicModules: sc.AllowsDynamicModules,
				AllowsShadowModules:  sc.AllowsShadowModules,
				AllowedModuleTypes:   sc.AllowedModuleTypes,
				MaxModulesWarn:       sc.MaxModulesWarn,
				MaxModulesHard:       sc.MaxModulesHard,
				MaxShadowModulesHard: sc.MaxShadowModulesHard,
				MaxShadowSampleBps:   sc.MaxShadowSampleBps,
				MinFanoutMax:         sc.MinFanoutMax,
				MaxFanoutMax:         sc.MaxFanoutMax,
			}
		}

		var defaultParams any
		if len(f.DefaultParams) > 0 {
			if err := json.Unmarshal(f.DefaultParams, &defaultParams); err != nil {
				return nil, fmt.Errorf("flow %q: invalid defaultParams: %w", name, err)
			}
		}

		ownershipSpec := make(map[string]struct {
			ParamPathPrefixes []string
			OwnedModuleIDs    []string
		}, len(f.Ownership.Layers))
		for layer, spec := range f.Ownership.Layers {
			ownershipSpec[layer] = struct {
				ParamPathPrefixes []string
				OwnedModuleIDs    []string
			}{ParamPathPrefixes: spec.ParamPathPrefixes, OwnedModuleIDs: spec.OwnedModuleIDs}
		}

		flows[name] = &contract.FlowDefinition{
			StageNames:     f.StageNames,
			NodeNames:      f.NodeNames,
			StageContracts: stageContracts,
			DefaultParams:  defaultParams,
			Ownership:      contract.NewOwnershipContract(ownershipSpec),
		}
	}
	return contract.NewFlowRegistry(flows), nil
}

func loadCatalog(path string) (*contract.ModuleCatalog, error) {
	if path == "" {
		return contract.NewModuleCatalog(nil), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc catalogFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	entries := make(map[string]*contract.ModuleEntry, len(doc.Modules))
	for moduleType, m := range doc.Modules {
		entry := &contract.ModuleEntry{OutputTypeName: m.OutputTypeName, AllowsUnmapped: m.AllowsUnmapped}
		if len(m.ArgsSchema) > 0 {
			entry.ArgsSchema = contract.MustBuildSchema(m.ArgsSchema)
		}
		entries[moduleType] = entry
	}
	return contract.NewModuleCatalog(entries), nil
}

func loadSelectors(ctx context.Context, path string) (*contract.SelectorRegistry, error) {
	registry := contract.NewSelectorRegistry(nil)
	if path == "" {
		return registry, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc selectorsFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}

	celPredicates, err := celselector.CompileAll(doc.CEL)
	if err != nil {
		return nil, fmt.Errorf("compiling CEL selectors: %w", err)
	}
	registry = registry.Merge(celPredicates)

	for name, module := range doc.Rego {
		pred, err := regoselector.Compile(ctx, module)
		if err != nil {
			return nil, fmt.Errorf("compiling rego selector %q: %w", name, err)
		}
		registry = registry.Merge(map[string]contract.Predicate{name: pred})
	}
	return registry, nil
}
