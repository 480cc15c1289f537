//go:build js && wasm

// Command wasm runs batch dispatch scenarios in the browser. It registers
// one global JavaScript function:
//
//	runDispatchScenario(scenarioJSON) -> resultJSON
//
// scenarioJSON is a SimulationInput: the corridor stations, the timetabled
// trains, and optionally the disruptions and prioritization decisions to
// inject at given sim minutes. resultJSON is the SimulationLog:
//
//	simulation_meta           the run metadata echoed back
//	output                    one row per tick with every train's position,
//	                          speed, status, halt reason and delay
//	prioritization_decisions  the decision ledger, applied and overridden
//	kpi                       on-time performance, delay by train type,
//	                          affected trains and per-disruption recovery
//	warnings                  rejected injections; the run carries on
//
// A scenario that cannot be decoded or fails validation returns an object
// {"error": message} instead of a string.
package main

import (
	"syscall/js"

	"github.com/cxd309/tms-dispatch/internal/engine"
)

func main() {
	js.Global().Set("runDispatchScenario", js.FuncOf(runDispatchScenario))
	select {}
}

func runDispatchScenario(_ js.Value, args []js.Value) any {
	if len(args) < 1 || args[0].Type() != js.TypeString {
		return failure("expected a scenario JSON string")
	}
	result, err := engine.RunJSON(args[0].String())
	if err != nil {
		return failure(err.Error())
	}
	return result
}

func failure(msg string) map[string]any {
	return map[string]any{"error": msg}
}
