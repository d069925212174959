package browsertab

// The audit agent is a script injected into audited pages. It exposes a
// window.__auditAgent object; every snippet below wraps its calls in an
// envelope so Go code can distinguish page errors from transport errors.

const codeEvalFailure = "EVAL_FAILURE"
const codeAgentMissing = "AGENT_UNAVAILABLE"

const jsAgentPreamble = `
var agent = window.__auditAgent;`

func buildIIFE(body string) string {
	return `(function(){
try {
` + body + `
} catch (err) {
return JSON.stringify({ok:false,error_code:"` + codeEvalFailure + `",error_message:String(err && err.message || err)});
}
})()`
}

// jsAgentState reports whether the agent is present and currently enabled.
// A page without the agent is a valid answer, not an error.
func jsAgentState() string {
	return buildIIFE(jsAgentPreamble + `
if (!agent) return JSON.stringify({ok:true,data:{present:false,enabled:false}});
var enabled = false;
if (typeof agent.isEnabled === "function") { enabled = Boolean(agent.isEnabled()); }
else { enabled = Boolean(agent.enabled); }
return JSON.stringify({ok:true,data:{present:true,enabled:enabled}});`)
}

// jsSetEnabled pushes the coordinator's toggle decision into the page.
func jsSetEnabled(enabled bool) string {
	val := "false"
	if enabled {
		val = "true"
	}
	return buildIIFE(jsAgentPreamble + `
if (!agent) return JSON.stringify({ok:false,error_code:"` + codeAgentMissing + `",error_message:"audit agent not present"});
if (typeof agent.setEnabled !== "function") return JSON.stringify({ok:false,error_code:"` + codeAgentMissing + `",error_message:"audit agent lacks setEnabled"});
agent.setEnabled(` + val + `);
return JSON.stringify({ok:true});`)
}

// jsRequestCapture asks the page agent to start its capture flow. The agent
// replies out of band by posting the capture to the coordinator, so this
// snippet only confirms delivery.
func jsRequestCapture() string {
	return buildIIFE(jsAgentPreamble + `
if (!agent) return JSON.stringify({ok:false,error_code:"` + codeAgentMissing + `",error_message:"audit agent not present"});
if (typeof agent.requestCapture !== "function") return JSON.stringify({ok:false,error_code:"` + codeAgentMissing + `",error_message:"audit agent lacks requestCapture"});
agent.requestCapture();
return JSON.stringify({ok:true});`)
}
