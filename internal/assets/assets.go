package assets

import (
	_ "embed"
)

// PageScript is installed into every host document. It reports answers and
// improve-button clicks through the pplxHelperEmit binding and exposes
// window.__pplxHelper for configuration and annotation.
//
//go:embed page.js
var PageScript string

// BindingName is the runtime binding the page script calls.
const BindingName = "pplxHelperEmit"
