package protogen

import (
	"github.com/jhump/protoreflect/grpcreflect"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Collector drives a Source through the full discovery sequence. The three
// phases (services, interfaces, app descriptors) are independent: a server
// that implements only some of the reflection dialects still yields a
// partial catalog.
type Collector struct {
	Source Source
	Logger *logrus.Logger
}

// NewCollector returns a Collector for the given source. A nil logger
// defaults to a fresh logrus logger.
func NewCollector(src Source, logger *logrus.Logger) *Collector {
	if logger == nil {
		logger = logrus.New()
	}
	return &Collector{Source: src, Logger: logger}
}

// Collect interrogates the source and returns everything it could discover.
// Remote failures never abort the run: unimplemented methods are recorded in
// the catalog's Missing list, any other failure is logged and the affected
// entry is simply absent.
func (c *Collector) Collect() *Catalog {
	cat := &Catalog{}
	c.collectServices(cat)
	c.collectInterfaces(cat)
	c.collectDescriptors(cat)
	return cat
}

func (c *Collector) collectServices(cat *Catalog) {
	svcs, err := c.Source.ListServices()
	if err != nil {
		c.recordFailure(cat, "grpc.reflection.v1alpha.ServerReflection/ServerReflectionInfo", err)
		return
	}
	for _, name := range svcs {
		entry, err := c.Source.GetService(name)
		if err != nil {
			c.Logger.WithError(err).Warnf("no descriptor for service %s, skipping", name)
			continue
		}
		c.Logger.Debugf("discovered service %s with %d methods", name, len(entry.Methods))
		cat.Services = append(cat.Services, *entry)
	}
}

func (c *Collector) collectInterfaces(cat *Catalog) {
	ifaces, err := c.Source.ListInterfaces()
	if err != nil {
		c.recordFailure(cat, interfaceReflectionService+"/ListAllInterfaces", err)
		return
	}
	// one call per interface, sequential
	for _, name := range ifaces {
		impls, err := c.Source.ListImplementations(name)
		if err != nil {
			c.Logger.WithError(err).Warnf("no implementations for interface %s, skipping", name)
			continue
		}
		c.Logger.Debugf("interface %s has %d implementations", name, len(impls))
		cat.Interfaces = append(cat.Interfaces, InterfaceBinding{Name: name, Implementations: impls})
	}
}

func (c *Collector) collectDescriptors(cat *Catalog) {
	for _, call := range AllDescriptorCalls {
		payload, err := c.Source.GetDescriptor(call)
		if err != nil {
			c.recordFailure(cat, call.String(), err)
			continue
		}
		cat.Descriptors = append(cat.Descriptors, NamedDescriptor{Call: call, Payload: payload})
	}
}

func (c *Collector) recordFailure(cat *Catalog, method string, err error) {
	if isMissingMethod(err) {
		c.Logger.Infof("reflection method %s not implemented by server", method)
		cat.Missing = append(cat.Missing, method)
		return
	}
	c.Logger.WithError(err).Warnf("reflection method %s failed", method)
}

// isMissingMethod reports whether an error means the server simply does not
// offer the called reflection method, as opposed to a genuine failure.
func isMissingMethod(err error) bool {
	if grpcreflect.IsElementNotFoundError(err) {
		return true
	}
	return status.Code(err) == codes.Unimplemented
}
