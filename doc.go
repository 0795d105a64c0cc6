// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package dtracego implements the runtime data pipeline of a userspace
// DTrace front end: the record layout tables, the printf-style format
// engine, and the session state machine that drives an active tracing
// run once a script has already been compiled.
//
// The script compiler front end, the BPF code generator/loader, and
// the probe providers' attachment machinery are external collaborators
// whose interfaces this package consumes; see the subpackages
// dtracego/rdt, dtracego/agg, dtracego/format, dtracego/provider,
// dtracego/perfring and dtracego/symbol for the pieces of the pipeline
// itself.
package dtracego
