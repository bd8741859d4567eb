package main

import (
	"time"

	"github.com/agent-infra/sandbox-go/sandbox"
)

type createCommand struct {
	app *app

	TimeoutMinutes int               `long:"ttl" description:"Sandbox lifetime in minutes" default:"30"`
	Env            map[string]string `short:"e" long:"env" description:"Environment variable KEY:VALUE"`
	Metadata       map[string]string `long:"metadata" description:"Metadata KEY:VALUE"`
	Wait           bool              `short:"w" long:"wait" description:"Wait until the sandbox is running"`
}

func (c *createCommand) Execute([]string) error {
	functionID, err := c.app.requireFunction()
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	opts := []sandbox.CreateOption{sandbox.WithTimeout(c.TimeoutMinutes)}
	if len(c.Env) > 0 {
		opts = append(opts, sandbox.WithEnvs(c.Env))
	}
	if len(c.Metadata) > 0 {
		opts = append(opts, sandbox.WithMetadata(c.Metadata))
	}
	if c.Wait {
		d, err := client.CreateAndWait(c.app.ctx, functionID, opts, sandbox.WithPollTimeout(0))
		if err != nil {
			return err
		}
		return c.app.printJSON(d)
	}
	id, err := client.CreateSandbox(c.app.ctx, functionID, opts...)
	if err != nil {
		return err
	}
	c.app.printf("%s\n", id)
	return nil
}

type listCommand struct {
	app *app
}

func (c *listCommand) Execute([]string) error {
	functionID, err := c.app.requireFunction()
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	list, err := client.ListSandboxes(c.app.ctx, functionID)
	if err != nil {
		return err
	}
	return c.app.printJSON(list)
}

type sandboxArgs struct {
	SandboxID string `positional-arg-name:"sandbox-id" required:"yes"`
}

type getCommand struct {
	app  *app
	Args sandboxArgs `positional-args:"yes"`
}

func (c *getCommand) Execute([]string) error {
	functionID, err := c.app.requireFunction()
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	d, err := client.GetSandbox(c.app.ctx, functionID, c.Args.SandboxID)
	if err != nil {
		return err
	}
	return c.app.printJSON(d)
}

type deleteCommand struct {
	app  *app
	Args sandboxArgs `positional-args:"yes"`
}

func (c *deleteCommand) Execute([]string) error {
	functionID, err := c.app.requireFunction()
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	if err = client.DeleteSandbox(c.app.ctx, functionID, c.Args.SandboxID); err != nil {
		return err
	}
	c.app.printf("deleted %s\n", c.Args.SandboxID)
	return nil
}

type waitCommand struct {
	app  *app
	Args sandboxArgs `positional-args:"yes"`

	Interval time.Duration `long:"interval" description:"Initial poll interval" default:"1s"`
}

func (c *waitCommand) Execute([]string) error {
	functionID, err := c.app.requireFunction()
	if err != nil {
		return err
	}
	client, err := c.app.client()
	if err != nil {
		return err
	}
	d, err := client.WaitUntilRunning(c.app.ctx, functionID, c.Args.SandboxID, sandbox.WithPollInterval(c.Interval), sandbox.WithPollTimeout(0))
	if err != nil {
		return err
	}
	return c.app.printJSON(d)
}
