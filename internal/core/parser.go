package core

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultPipelineYAML reproduces the five-workspace Terraform pipeline:
// terraform/tflint for validation, a saved plan per workspace, tfsec/trivy/opa
// against the plan, and apply/destroy of that saved plan.
const defaultPipelineYAML = `primary_branch: main

environments:
  - name: dev
    var_file: environments/dev.tfvars
    backend_role: terraform-dev
    scan_severity: CRITICAL
    lint_failure_threshold: error
  - name: sit
    var_file: environments/sit.tfvars
    backend_role: terraform-sit
    scan_severity: CRITICAL
    lint_failure_threshold: error
  - name: uat
    var_file: environments/uat.tfvars
    backend_role: terraform-uat
    scan_severity: CRITICAL
    lint_failure_threshold: error
  - name: preprod
    var_file: environments/preprod.tfvars
    backend_role: terraform-preprod
    scan_severity: HIGH,CRITICAL
    lint_failure_threshold: warning
    requires_approval: true
  - name: prod
    var_file: environments/prod.tfvars
    backend_role: terraform-prod
    scan_severity: HIGH,CRITICAL
    lint_failure_threshold: warning
    requires_approval: true

stages:
  validate:
    - name: fmt
      run: terraform fmt -check -recursive
    - name: init
      run: terraform init -backend=false -input=false
    - name: validate
      run: terraform validate -no-color
    - name: tflint
      run: tflint --init && tflint --var-file={{.VarFile}} --minimum-failure-severity={{.LintThreshold}} --format=compact
  plan:
    - name: init
      run: terraform init -input=false -reconfigure
    - name: workspace
      run: terraform workspace select -or-create {{.Env}}
    - name: plan
      run: terraform plan -input=false -no-color {{if .Destroy}}-destroy {{end}}-var-file={{.VarFile}} -out={{.PlanFile}}
    - name: show
      run: terraform show -json {{.PlanFile}} > {{.PlanJSON}}
  scan:
    - name: tfsec
      run: tfsec . --tfvars-file={{.VarFile}} --minimum-severity={{.ScanSeverity}} --format=json --out={{.ArtifactDir}}/tfsec.json
    - name: trivy
      run: trivy config --severity {{.ScanSeverity}} --exit-code 1 --format json --output {{.ArtifactDir}}/trivy.json .
    - name: opa
      run: opa eval --fail-defined --format pretty --data policy/ --input {{.PlanJSON}} "data.terraform.deny[x]"
  apply:
    - name: init
      run: terraform init -input=false -reconfigure
    - name: workspace
      run: terraform workspace select {{.Env}}
    - name: apply
      run: terraform apply -input=false -no-color -auto-approve {{.PlanFile}}
  destroy:
    - name: init
      run: terraform init -input=false -reconfigure
    - name: workspace
      run: terraform workspace select {{.Env}}
    - name: destroy
      run: terraform apply -input=false -no-color -auto-approve {{.PlanFile}}
`

// ParsePipeline parses YAML content into a validated Pipeline.
func ParsePipeline(data []byte) (*Pipeline, error) {
	var pipeline Pipeline
	if err := yaml.Unmarshal(data, &pipeline); err != nil {
		return nil, fmt.Errorf("parse pipeline: %w", err)
	}
	pipeline.normalize()
	if err := pipeline.Validate(); err != nil {
		return nil, err
	}
	return &pipeline, nil
}

// LoadPipeline reads a pipeline definition from disk. An empty path selects
// the built-in definition.
func LoadPipeline(path string) (*Pipeline, error) {
	if path == "" {
		return DefaultPipeline()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline %s: %w", path, err)
	}
	return ParsePipeline(data)
}

// DefaultPipeline returns the built-in five-environment definition.
func DefaultPipeline() (*Pipeline, error) {
	return ParsePipeline([]byte(defaultPipelineYAML))
}

func (p *Pipeline) normalize() {
	p.PrimaryBranch = trimRef(p.PrimaryBranch)
	for i := range p.Environments {
		p.Environments[i].Name = strings.TrimSpace(p.Environments[i].Name)
	}
	for stage, steps := range p.Stages {
		for i := range steps {
			if steps[i].Name == "" {
				fields := strings.Fields(steps[i].Run)
				if len(fields) > 0 {
					steps[i].Name = fields[0]
				}
			}
		}
		p.Stages[stage] = steps
	}
}
