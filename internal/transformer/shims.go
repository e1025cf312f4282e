package transformer

import "fmt"

// shimMarker tags an already-patched artifact so repeated build passes do
// not stack shims.
const shimMarker = "/* __federation_shims__ */"

// loggingShim installs a table of no-op logging functions when the global
// logging object is missing. Bundle top-level code may log before the host
// bootstrap installs the real logger; without this shim that first call
// crashes the engine.
const loggingShim = `var __fedGlobal = typeof globalThis !== 'undefined' ? globalThis : this;
if (typeof __fedGlobal.console === 'undefined') {
  var __fedNoop = function () {};
  __fedGlobal.console = {
    log: __fedNoop, warn: __fedNoop, error: __fedNoop, info: __fedNoop,
    debug: __fedNoop, trace: __fedNoop, table: __fedNoop, assert: __fedNoop
  };
}
`

// platformShimTemplate installs the platform-introspection indirection. Each
// accessor consults the backing reference (__platformImpl) first and falls
// back to the build-time placeholder for the target platform. Host bootstrap
// installs the backing reference exactly once; accesses before and after the
// upgrade go through the same indirection, so no caller needs to know which
// phase it is in.
const platformShimTemplate = `if (typeof __fedGlobal.__platformShim === 'undefined') {
  __fedGlobal.__platformShim = {
    get OS() { var impl = __fedGlobal.__platformImpl; return impl ? impl.OS : %q; },
    get Version() { var impl = __fedGlobal.__platformImpl; return impl ? impl.Version : %q; },
    get isTesting() { var impl = __fedGlobal.__platformImpl; return impl ? impl.isTesting : false; },
    get devServer() { var impl = __fedGlobal.__platformImpl; return impl ? impl.devServer : %q; },
    select: function (spec) {
      if (Object.prototype.hasOwnProperty.call(spec, this.OS)) { return spec[this.OS]; }
      return spec['default'];
    }
  };
}
`

// platformAccessor is the symbol compiled bundles use for direct platform
// reads. The transformer rewrites it to the shim so pre-existing code that
// reads platform data at top level goes through the indirection too.
const platformAccessor = "nativePlatform"

// shimSymbol replaces platformAccessor references in patched artifacts.
const shimSymbol = "__platformShim"

// shims returns the complete preamble for one target platform.
func shims(p Platform) string {
	return shimMarker + "\n" + loggingShim +
		fmt.Sprintf(platformShimTemplate, p.OSName(), p.OSVersion(), p.DevServerURL())
}
