// Package units provides the standard units a unitrun program is built from:
// command line parsing, variable files, logging, systemd integration,
// telemetry, the run journal, selection policies, worker fan-out and the
// hand-over to the asynchronous lifecycle.
//
// Register adds them to a registry. Selecting RunCommand pulls in everything
// needed to parse the command line and run the chosen command:
//
//	reg := engine.NewRegistry(logger)
//	cmds := engine.NewCommands()
//	cmds.MustRegister(&engine.Command{Name: "serve", RunAsync: serve})
//
//	set, err := units.Register(reg, cmds, units.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	e, err := engine.New(reg, nil, []*engine.Unit{set.RunCommand})
//	if err != nil {
//	    return err
//	}
//	return engine.Run(e)
//
// Units read and write the variables declared in Vars. Most features are
// off until their variable is set, either on the engine, from a variable
// file given with --config, or by an application unit running earlier.
package units
