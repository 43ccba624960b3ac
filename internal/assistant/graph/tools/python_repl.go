package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/groupgpt/server/internal/assistant/model"
	logx "github.com/groupgpt/server/pkg/logger"
)

type PythonREPLInput struct {
	Code string `json:"code"`
}

func createPythonREPLTool(runner model.CodeRunner) tool.BaseTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolPythonREPL,
			Desc: "Execute Python code in a REPL environment. Use this when you need to run Python code to compute values or perform calculations.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"code": {
					Type:     "string",
					Desc:     "The Python code to execute. Input must be a valid Python command. Use the `print()` function to see the output of a value.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *PythonREPLInput) (string, error) {
			output, err := runner.Run(ctx, in.Code)
			if err != nil {
				logx.Error().Err(err).Msg("python repl execution failed")
				return toolError(ToolPythonREPL, err), nil
			}

			logx.Debug().Int("code_len", len(in.Code)).Msg("python repl executed")
			return output, nil
		},
	)
}
